// Package app собирает сервисы движка бронирований в одно приложение
package app

import (
	"context"
	"log"
	"net/http"
	"time"

	"intercity-backend/internal/config"
	"intercity-backend/internal/events"
	"intercity-backend/internal/middleware"
	"intercity-backend/internal/models"
	"intercity-backend/internal/repository"
	"intercity-backend/internal/routes"
	"intercity-backend/internal/services/booking"
	"intercity-backend/internal/services/cancellation"
	"intercity-backend/internal/services/channels"
	"intercity-backend/internal/services/notification"
	"intercity-backend/internal/services/users"
	"intercity-backend/internal/utils"
	"intercity-backend/internal/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options - внешние зависимости приложения. Пустые поля заменяются
// реализациями в памяти процесса
type Options struct {
	Store     *repository.Store
	Limiter   notification.RateLimiter
	Publisher events.Publisher
	Clock     utils.Clock
	// Senders подменяет каналы доставки из конфигурации (используется в тестах)
	Senders map[models.Channel]notification.ChannelSender
	Alerter notification.ChannelSender
}

type App struct {
	Config        config.Config
	Store         *repository.Store
	Clock         utils.Clock
	Hub           *websocket.Hub
	Notifications *notification.Service
	Users         *users.Service
	Tracker       *cancellation.Tracker
	Bookings      *booking.Service
	Expiry        *booking.ExpiryJob

	cancel context.CancelFunc
}

func New(cfg config.Config, opts Options) *App {
	if opts.Store == nil {
		log.Println("App: хранилище не задано, данные хранятся в памяти процесса")
		opts.Store = repository.NewMemoryStore()
	}
	if opts.Limiter == nil {
		opts.Limiter = notification.NewMemoryRateLimiter()
	}
	if opts.Publisher == nil {
		opts.Publisher = events.NopPublisher{}
	}
	if opts.Clock == nil {
		opts.Clock = utils.RealClock()
	}

	loc, err := time.LoadLocation(cfg.DefaultTimezone)
	if err != nil {
		log.Printf("App: неизвестный часовой пояс %q, используем UTC: %v", cfg.DefaultTimezone, err)
		loc = time.UTC
	}

	store, clock := opts.Store, opts.Clock
	locks := utils.NewKeyedMutex()
	hub := websocket.NewHub()

	senders, alerter := opts.Senders, opts.Alerter
	if senders == nil {
		senders, alerter = channels.FromConfig(cfg, store.Notifications, hub, clock)
	}

	prefs := notification.NewPreferenceService(store, clock)
	filter := notification.NewFilter(prefs, opts.Limiter, clock, loc)
	composer := notification.NewComposer(store.Users, prefs, clock, cfg.AdminUserIDs, 500*time.Millisecond)
	scheduler := notification.NewScheduler(store.Queue, notification.NewDispatcher(store.Users, senders), alerter, clock, notification.SchedulerConfig{
		Interval:       cfg.Scheduler.Interval,
		InterItemDelay: cfg.Scheduler.InterItemDelay,
		Retention:      cfg.Scheduler.Retention,
		SweepInterval:  cfg.Scheduler.SweepInterval,
		MaxAttempts:    cfg.Scheduler.MaxAttempts,
	})
	notifier := notification.NewService(composer, filter, scheduler, prefs)

	tracker := cancellation.NewTracker(store, notifier, opts.Publisher, clock, locks, cancellation.Config{
		Window:    cfg.Cancellation.Window,
		Threshold: cfg.Cancellation.Threshold,
	})
	bookings := booking.NewService(store, tracker, notifier, opts.Publisher, clock, locks)

	return &App{
		Config:        cfg,
		Store:         store,
		Clock:         clock,
		Hub:           hub,
		Notifications: notifier,
		Users:         users.NewService(store.Users, notifier, clock),
		Tracker:       tracker,
		Bookings:      bookings,
		Expiry:        booking.NewExpiryJob(bookings, clock, cfg.Booking.PendingTTL, cfg.Booking.ExpiryInterval),
	}
}

// Start запускает WebSocket hub, очередь уведомлений и истечение бронирований
func (a *App) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	go a.Hub.Run(ctx)
	a.Notifications.Scheduler().Start(ctx)
	a.Expiry.Start(ctx)
}

// Stop останавливает фоновые циклы и ждет их завершения
func (a *App) Stop() {
	a.Expiry.Stop()
	a.Notifications.Scheduler().Stop()
	a.Notifications.Close()
	if a.cancel != nil {
		a.cancel()
	}
}

// Router возвращает gin роутер со всеми маршрутами API
func (a *App) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(middleware.PrometheusMiddleware())
	r.SetTrustedProxies([]string{"127.0.0.1"})

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   a.Clock.Now().Format(time.RFC3339),
		})
	})

	routes.SetupRoutes(r.Group("/api"), routes.Deps{
		JWTSecret:     a.Config.JWTSecret,
		Bookings:      a.Bookings,
		Tracker:       a.Tracker,
		Notifications: a.Notifications,
		Users:         a.Users,
		Inbox:         a.Store.Notifications,
		Hub:           a.Hub,
		Clock:         a.Clock,
		PendingTTL:    a.Config.Booking.PendingTTL,
	})
	return r
}
