package handlers

import (
	"net/http"
	"time"

	"intercity-backend/internal/models"
	"intercity-backend/internal/services/booking"
	"intercity-backend/internal/services/cancellation"

	"github.com/gin-gonic/gin"
)

// AdminSuspend блокирует аккаунт вручную
func AdminSuspend(tracker *cancellation.Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := paramID(c, "id")
		if !ok {
			return
		}
		var req struct {
			Reason string                `json:"reason" binding:"required"`
			Type   models.SuspensionType `json:"type"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Укажите причину блокировки"})
			return
		}

		s, report, err := tracker.Suspend(c.Request.Context(), userID, req.Type, req.Reason, c.GetUint("user_id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"suspension": s, "notifications": report})
	}
}

// AdminReactivate снимает блокировку и обнуляет счетчик отмен
func AdminReactivate(tracker *cancellation.Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := paramID(c, "id")
		if !ok {
			return
		}
		s, report, err := tracker.Reactivate(c.Request.Context(), userID, c.GetUint("user_id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"suspension": s, "notifications": report})
	}
}

func AdminSuspensionsOpen(tracker *cancellation.Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := tracker.ListOpen(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		if list == nil {
			list = []models.Suspension{}
		}
		c.JSON(http.StatusOK, list)
	}
}

// AdminCancellationHistory возвращает историю отмен и текущий счетчик в окне
func AdminCancellationHistory(tracker *cancellation.Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := paramID(c, "id")
		if !ok {
			return
		}
		history, err := tracker.History(c.Request.Context(), userID)
		if err != nil {
			respondError(c, err)
			return
		}
		if history == nil {
			history = []models.CancellationRecord{}
		}

		userType := models.UserType(c.DefaultQuery("user_type", string(models.UserTypeDriver)))
		count, err := tracker.CountInWindow(c.Request.Context(), userID, userType)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"history": history, "count_in_window": count})
	}
}

// AdminExpirePending отклоняет бронирования без ответа водителя дольше ttl
func AdminExpirePending(svc *booking.Service, defaultTTL time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ttl := defaultTTL
		if raw := c.Query("ttl"); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil || d <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный ttl"})
				return
			}
			ttl = d
		}
		n, err := svc.ExpirePending(c.Request.Context(), ttl)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"expired": n})
	}
}
