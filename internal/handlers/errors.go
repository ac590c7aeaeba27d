package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"intercity-backend/internal/models"
	"intercity-backend/internal/repository"
	"intercity-backend/internal/services/booking"
	"intercity-backend/internal/services/cancellation"
	"intercity-backend/internal/services/notification"
	"intercity-backend/internal/services/users"

	"github.com/gin-gonic/gin"
)

// respondError переводит ошибку сервиса в HTTP статус
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, booking.ErrNotFound), errors.Is(err, repository.ErrNotFound), errors.Is(err, users.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, booking.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, cancellation.ErrAccountSuspended):
		status = http.StatusLocked
	case errors.Is(err, booking.ErrInvalidTransition),
		errors.Is(err, booking.ErrSeatsUnavailable),
		errors.Is(err, booking.ErrTripClosed),
		errors.Is(err, cancellation.ErrNotSuspended):
		status = http.StatusConflict
	case errors.Is(err, booking.ErrInvalidRequest), errors.Is(err, notification.ErrInvalidPreferences),
		errors.Is(err, notification.ErrEmptyPayload), errors.Is(err, users.ErrInvalidProfile):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		log.Printf("Handlers: %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(status, gin.H{"error": "Внутренняя ошибка сервера"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// actorFromRole возвращает инициатора по роли из токена
func actorFromRole(c *gin.Context) (models.Actor, bool) {
	switch models.UserRole(c.GetString("role")) {
	case models.RoleDriver:
		return models.ActorDriver, true
	case models.RolePassenger:
		return models.ActorPassenger, true
	case models.RoleAdmin:
		return models.ActorAdmin, true
	}
	return "", false
}

func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный ID"})
		return 0, false
	}
	return uint(id), true
}
