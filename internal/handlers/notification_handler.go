package handlers

import (
	"net/http"
	"strconv"
	"time"

	"intercity-backend/internal/models"
	"intercity-backend/internal/repository"
	"intercity-backend/internal/services/notification"
	"intercity-backend/internal/utils"

	"github.com/gin-gonic/gin"
)

// NotificationList возвращает входящие текущего пользователя, новые первыми
func NotificationList(inbox repository.NotificationRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
		if err != nil || limit <= 0 || limit > 200 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный limit"})
			return
		}
		list, err := inbox.ListByUser(c.Request.Context(), c.GetUint("user_id"), limit)
		if err != nil {
			respondError(c, err)
			return
		}
		if list == nil {
			list = []models.Notification{}
		}
		c.JSON(http.StatusOK, list)
	}
}

func NotificationMarkRead(inbox repository.NotificationRepository, clock utils.Clock) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := inbox.MarkRead(c.Request.Context(), c.GetUint("user_id"), c.Param("id"), clock.Now()); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func NotificationUnreadCount(inbox repository.NotificationRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		count, err := inbox.CountUnread(c.Request.Context(), c.GetUint("user_id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"unread": count})
	}
}

func PreferencesGet(prefs *notification.PreferenceService) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := prefs.Get(c.Request.Context(), c.GetUint("user_id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

// PreferencesUpdate применяет частичное обновление настроек уведомлений
func PreferencesUpdate(prefs *notification.PreferenceService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var patch models.PreferencesPatch
		if err := c.ShouldBindJSON(&patch); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный формат данных"})
			return
		}
		p, err := prefs.Update(c.Request.Context(), c.GetUint("user_id"), patch)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

// QueueStats - сводка очереди доставки для операторов
func QueueStats(scheduler *notification.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := scheduler.Stats(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

func QueueItemStatus(scheduler *notification.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		item, err := scheduler.Status(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		if item == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Уведомление не найдено"})
			return
		}
		c.JSON(http.StatusOK, item)
	}
}

// QueueItemCancel отменяет уведомление, которое еще не отправлено
func QueueItemCancel(scheduler *notification.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		cancelled, err := scheduler.Cancel(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		if !cancelled {
			c.JSON(http.StatusConflict, gin.H{"error": "Уведомление уже обработано или не найдено"})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// NotificationSend ставит в очередь произвольное уведомление от оператора
func NotificationSend(svc *notification.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			models.NotificationPayload
			ScheduledFor *time.Time `json:"scheduled_for"`
			ExpiresAt    *time.Time `json:"expires_at"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный формат данных"})
			return
		}
		if req.Priority == "" {
			req.Priority = models.PriorityMedium
		}

		opts := notification.EnqueueOptions{ExpiresAt: req.ExpiresAt}
		if req.ScheduledFor != nil {
			opts.ScheduledFor = *req.ScheduledFor
		}
		id, skipped, err := svc.Send(c.Request.Context(), req.NotificationPayload, opts)
		if err != nil {
			respondError(c, err)
			return
		}
		if skipped != nil {
			c.JSON(http.StatusOK, gin.H{"skipped": skipped})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"id": id})
	}
}
