package handlers

import (
	"net/http"

	"intercity-backend/internal/models"
	"intercity-backend/internal/services/users"

	"github.com/gin-gonic/gin"
)

func ProfileGet(svc *users.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := svc.Get(c.Request.Context(), c.GetUint("user_id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, user)
	}
}

// ProfileUpdate обновляет имя и контакты, по которым отправляются уведомления
func ProfileUpdate(svc *users.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.UserProfileUpdate
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный формат данных"})
			return
		}

		user, err := svc.UpdateProfile(c.Request.Context(), c.GetUint("user_id"), req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, user)
	}
}

// UpdateFCMToken обновляет FCM токен пользователя
func UpdateFCMToken(svc *users.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			FCMToken string `json:"fcmToken" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный формат данных"})
			return
		}

		if err := svc.UpdateFCMToken(c.Request.Context(), c.GetUint("user_id"), req.FCMToken); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "FCM токен успешно обновлен"})
	}
}
