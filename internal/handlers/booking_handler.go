package handlers

import (
	"net/http"

	"intercity-backend/internal/models"
	"intercity-backend/internal/repository"
	"intercity-backend/internal/services/booking"

	"github.com/gin-gonic/gin"
)

// BookingCreate создает бронирование текущего пассажира
func BookingCreate(svc *booking.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.BookingCreate
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный формат данных"})
			return
		}
		req.PassengerID = c.GetUint("user_id")

		result, err := svc.CreateBooking(c.Request.Context(), req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, result)
	}
}

// BookingGet возвращает бронирование пассажиру, водителю поездки или администратору
func BookingGet(svc *booking.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "id")
		if !ok {
			return
		}
		b, err := svc.GetBooking(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}

		userID := c.GetUint("user_id")
		if c.GetString("role") != string(models.RoleAdmin) && b.PassengerID != userID && b.DriverID != userID {
			respondError(c, booking.ErrUnauthorized)
			return
		}
		c.JSON(http.StatusOK, b)
	}
}

// BookingList возвращает бронирования текущего пользователя: пассажира по своим
// бронированиям, водителя по своим поездкам
func BookingList(svc *booking.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetUint("user_id")

		var filter repository.BookingFilter
		switch models.UserRole(c.GetString("role")) {
		case models.RoleDriver:
			filter.DriverID = userID
		case models.RoleAdmin:
		default:
			filter.PassengerID = userID
		}
		for _, status := range c.QueryArray("status") {
			filter.Statuses = append(filter.Statuses, models.BookingStatus(status))
		}

		bookings, err := svc.ListBookings(c.Request.Context(), filter)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, bookings)
	}
}

// BookingTransition меняет статус бронирования от имени текущего пользователя
func BookingTransition(svc *booking.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "id")
		if !ok {
			return
		}
		var req struct {
			Status models.BookingStatus `json:"status" binding:"required"`
			Reason string               `json:"reason"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный формат данных"})
			return
		}
		actor, ok := actorFromRole(c)
		if !ok {
			c.JSON(http.StatusForbidden, gin.H{"error": "Недостаточно прав"})
			return
		}

		result, err := svc.Transition(c.Request.Context(), booking.TransitionRequest{
			BookingID: id,
			To:        req.Status,
			Actor:     actor,
			ActorID:   c.GetUint("user_id"),
			Reason:    req.Reason,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// BookingPayment фиксирует результат оплаты (вызывается администратором или платежным шлюзом)
func BookingPayment(svc *booking.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "id")
		if !ok {
			return
		}
		var req struct {
			Amount  float64 `json:"amount"`
			Success *bool   `json:"success" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный формат данных"})
			return
		}

		result, err := svc.RecordPayment(c.Request.Context(), id, req.Amount, *req.Success)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}
