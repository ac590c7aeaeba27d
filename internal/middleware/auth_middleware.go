package middleware

import (
	"context"
	"log"
	"net/http"
	"strings"

	"intercity-backend/internal/models"
	"intercity-backend/internal/utils"

	"github.com/gin-gonic/gin"
)

// JWTAuth проверяет Bearer токен и кладет user_id и role в контекст.
// Для WebSocket токен можно передать параметром ?token=
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := c.Query("token")
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Неверный формат токена"})
				return
			}
			tokenString = parts[1]
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Отсутствует токен авторизации"})
			return
		}

		claims, err := utils.ValidateToken(secret, tokenString)
		if err != nil {
			log.Printf("JWTAuth: недействительный токен для %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Недействительный токен"})
			return
		}
		if claims.UserID == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Недействительный ID пользователя"})
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("role", claims.Role)
		c.Next()
	}
}

// RequireRole пропускает только пользователей с одной из ролей
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString("role")
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Недостаточно прав"})
	}
}

type userRegistrar interface {
	Ensure(ctx context.Context, id uint, role models.UserRole) error
}

// EnsureUser заводит запись пользователя из токена при первом запросе.
// Ошибка справочника не блокирует запрос
func EnsureUser(users userRegistrar) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetUint("user_id")
		if err := users.Ensure(c.Request.Context(), userID, models.UserRole(c.GetString("role"))); err != nil {
			log.Printf("EnsureUser: пользователь %d: %v", userID, err)
		}
		c.Next()
	}
}
