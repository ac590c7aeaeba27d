package routes

import (
	"time"

	"intercity-backend/internal/handlers"
	"intercity-backend/internal/middleware"
	"intercity-backend/internal/repository"
	"intercity-backend/internal/services/booking"
	"intercity-backend/internal/services/cancellation"
	"intercity-backend/internal/services/notification"
	"intercity-backend/internal/services/users"
	"intercity-backend/internal/utils"
	"intercity-backend/internal/websocket"

	"github.com/gin-gonic/gin"
)

// Deps - сервисы, которые нужны обработчикам
type Deps struct {
	JWTSecret     string
	Bookings      *booking.Service
	Tracker       *cancellation.Tracker
	Notifications *notification.Service
	Users         *users.Service
	Inbox         repository.NotificationRepository
	Hub           *websocket.Hub
	Clock         utils.Clock
	PendingTTL    time.Duration
}

func SetupRoutes(api *gin.RouterGroup, d Deps) {
	protected := api.Group("")
	protected.Use(middleware.JWTAuth(d.JWTSecret), middleware.EnsureUser(d.Users))
	{
		// Профиль
		protected.GET("/profile", handlers.ProfileGet(d.Users))
		protected.PUT("/profile", handlers.ProfileUpdate(d.Users))
		protected.PUT("/fcm-token", handlers.UpdateFCMToken(d.Users))

		// Поездки
		protected.POST("/trips", middleware.RequireRole("driver"), handlers.TripCreate(d.Bookings))
		protected.GET("/trips/:id", handlers.TripGet(d.Bookings))
		protected.GET("/trips/:id/bookings", handlers.TripBookings(d.Bookings))
		protected.PUT("/trips/:id/start", middleware.RequireRole("driver"), handlers.TripStart(d.Bookings))
		protected.PUT("/trips/:id/cancel", middleware.RequireRole("driver", "admin"), handlers.TripCancel(d.Bookings))

		// Бронирования
		protected.POST("/bookings", middleware.RequireRole("passenger"), handlers.BookingCreate(d.Bookings))
		protected.GET("/bookings", handlers.BookingList(d.Bookings))
		protected.GET("/bookings/:id", handlers.BookingGet(d.Bookings))
		protected.PUT("/bookings/:id/status", handlers.BookingTransition(d.Bookings))

		// Входящие уведомления и настройки
		protected.GET("/notifications", handlers.NotificationList(d.Inbox))
		protected.GET("/notifications/unread-count", handlers.NotificationUnreadCount(d.Inbox))
		protected.PUT("/notifications/:id/read", handlers.NotificationMarkRead(d.Inbox, d.Clock))
		protected.GET("/notification-preferences", handlers.PreferencesGet(d.Notifications.Preferences()))
		protected.PATCH("/notification-preferences", handlers.PreferencesUpdate(d.Notifications.Preferences()))

		// WebSocket подключение для получения уведомлений в реальном времени
		protected.GET("/ws", d.Hub.Handler())
	}

	admin := protected.Group("/admin")
	admin.Use(middleware.RequireRole("admin"))
	{
		admin.PUT("/trips/:id/recompute", handlers.TripRecompute(d.Bookings))
		admin.POST("/bookings/:id/payment", handlers.BookingPayment(d.Bookings))
		admin.POST("/bookings/expire", handlers.AdminExpirePending(d.Bookings, d.PendingTTL))

		admin.GET("/suspensions", handlers.AdminSuspensionsOpen(d.Tracker))
		admin.POST("/users/:id/suspend", handlers.AdminSuspend(d.Tracker))
		admin.POST("/users/:id/reactivate", handlers.AdminReactivate(d.Tracker))
		admin.GET("/users/:id/cancellations", handlers.AdminCancellationHistory(d.Tracker))

		admin.POST("/notifications", handlers.NotificationSend(d.Notifications))
		admin.GET("/notifications/queue", handlers.QueueStats(d.Notifications.Scheduler()))
		admin.GET("/notifications/queue/:id", handlers.QueueItemStatus(d.Notifications.Scheduler()))
		admin.DELETE("/notifications/queue/:id", handlers.QueueItemCancel(d.Notifications.Scheduler()))
	}
}
