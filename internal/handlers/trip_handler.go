package handlers

import (
	"net/http"

	"intercity-backend/internal/models"
	"intercity-backend/internal/repository"
	"intercity-backend/internal/services/booking"

	"github.com/gin-gonic/gin"
)

// TripCreate создает поездку текущего водителя
func TripCreate(svc *booking.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.TripCreate
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный формат данных"})
			return
		}
		req.DriverID = c.GetUint("user_id")

		result, err := svc.CreateTrip(c.Request.Context(), req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, result)
	}
}

func TripGet(svc *booking.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "id")
		if !ok {
			return
		}
		trip, err := svc.GetTrip(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, trip)
	}
}

// TripCancel отменяет поездку водителем или администратором вместе с активными бронированиями
func TripCancel(svc *booking.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "id")
		if !ok {
			return
		}
		var req struct {
			Reason string `json:"reason"`
		}
		// Причина необязательна
		_ = c.ShouldBindJSON(&req)

		actor, ok := actorFromRole(c)
		if !ok {
			c.JSON(http.StatusForbidden, gin.H{"error": "Недостаточно прав"})
			return
		}

		result, err := svc.CancelTrip(c.Request.Context(), id, actor, c.GetUint("user_id"), req.Reason)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// TripStart переводит подтвержденных пассажиров в поездку
func TripStart(svc *booking.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "id")
		if !ok {
			return
		}
		result, err := svc.StartTrip(c.Request.Context(), id, c.GetUint("user_id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// TripRecompute пересчитывает свободные места поездки (для администратора)
func TripRecompute(svc *booking.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "id")
		if !ok {
			return
		}
		trip, err := svc.RecomputeAvailability(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, trip)
	}
}

// TripBookings возвращает бронирования поездки водителю поездки или администратору
func TripBookings(svc *booking.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := paramID(c, "id")
		if !ok {
			return
		}
		trip, err := svc.GetTrip(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		if c.GetString("role") != string(models.RoleAdmin) && trip.DriverID != c.GetUint("user_id") {
			respondError(c, booking.ErrUnauthorized)
			return
		}

		filter := repository.BookingFilter{TripID: id}
		if status := c.Query("status"); status != "" {
			filter.Statuses = []models.BookingStatus{models.BookingStatus(status)}
		}
		bookings, err := svc.ListBookings(c.Request.Context(), filter)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, bookings)
	}
}
