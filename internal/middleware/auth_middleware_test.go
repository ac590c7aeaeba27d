package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"intercity-backend/internal/utils"

	"github.com/gin-gonic/gin"
)

const testSecret = "test-secret"

func newAuthRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(PrometheusMiddleware())
	r.GET("/me", JWTAuth(testSecret), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetUint("user_id"), "role": c.GetString("role")})
	})
	r.GET("/admin", JWTAuth(testSecret), RequireRole("admin"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func do(r http.Handler, path, header string) int {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestJWTAuth(t *testing.T) {
	r := newAuthRouter()

	passenger, err := utils.GenerateJWT(testSecret, 2, "passenger", time.Hour)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	foreign, _ := utils.GenerateJWT("other-secret", 2, "passenger", time.Hour)
	expired, _ := utils.GenerateJWT(testSecret, 2, "passenger", -time.Minute)

	cases := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"bearer token", "/me", "Bearer " + passenger, http.StatusOK},
		{"query token", "/me?token=" + passenger, "", http.StatusOK},
		{"missing token", "/me", "", http.StatusUnauthorized},
		{"bad format", "/me", "Token " + passenger, http.StatusUnauthorized},
		{"wrong secret", "/me", "Bearer " + foreign, http.StatusUnauthorized},
		{"expired", "/me", "Bearer " + expired, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := do(r, tc.path, tc.header); got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	r := newAuthRouter()

	passenger, _ := utils.GenerateJWT(testSecret, 2, "passenger", time.Hour)
	admin, _ := utils.GenerateAdminJWT(testSecret, 900)

	if got := do(r, "/admin", "Bearer "+passenger); got != http.StatusForbidden {
		t.Fatalf("passenger: expected 403, got %d", got)
	}
	if got := do(r, "/admin", "Bearer "+admin); got != http.StatusNoContent {
		t.Fatalf("admin: expected 204, got %d", got)
	}
}
