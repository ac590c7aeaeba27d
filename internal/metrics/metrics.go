package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BookingTransitions - переходы статусов бронирований
	BookingTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_transitions_total",
			Help: "Количество переходов статусов бронирований",
		},
		[]string{"from", "to", "actor"},
	)

	// BookingRejections - отказы при создании бронирования
	BookingRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "booking_create_rejections_total",
			Help: "Отказы при создании бронирования по причинам",
		},
		[]string{"reason"},
	)

	// SeatLedgerConflicts - конфликты версий при пересчете мест
	SeatLedgerConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "seat_ledger_conflicts_total",
			Help: "Количество повторов пересчета мест из-за конфликта версий",
		},
	)

	// SuspensionsCreated - созданные блокировки аккаунтов
	SuspensionsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "account_suspensions_total",
			Help: "Количество блокировок аккаунтов",
		},
		[]string{"type"},
	)

	// NotificationsEnqueued - поставленные в очередь уведомления
	NotificationsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_queue_enqueued_total",
			Help: "Количество уведомлений, поставленных в очередь",
		},
		[]string{"priority"},
	)

	// NotificationsSkipped - уведомления, отсеянные настройками пользователя
	NotificationsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_skipped_total",
			Help: "Количество уведомлений, не отправленных из-за настроек",
		},
		[]string{"reason"},
	)

	// NotificationAttempts - попытки доставки по результату
	NotificationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_delivery_attempts_total",
			Help: "Попытки доставки уведомлений",
		},
		[]string{"result"},
	)

	// ChannelSends - отправки по каналам
	ChannelSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_channel_sends_total",
			Help: "Отправки уведомлений по каналам",
		},
		[]string{"channel", "status"},
	)

	// QueueDepth - элементы очереди по статусам после последнего тика
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notification_queue_depth",
			Help: "Размер очереди уведомлений по статусам",
		},
		[]string{"status"},
	)

	// ExpiredBookings - бронирования, отклоненные по истечении срока ожидания
	ExpiredBookings = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "booking_pending_expired_total",
			Help: "Количество бронирований, отклоненных по таймауту",
		},
	)

	// EventsPublished - события жизненного цикла, отправленные в Kafka
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecycle_events_published_total",
			Help: "События жизненного цикла, отправленные в Kafka",
		},
		[]string{"type", "status"},
	)
)
