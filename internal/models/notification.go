package models

import (
	"time"

	"github.com/lib/pq"
)

type NotificationPriority string

const (
	PriorityLow      NotificationPriority = "low"
	PriorityMedium   NotificationPriority = "medium"
	PriorityHigh     NotificationPriority = "high"
	PriorityUrgent   NotificationPriority = "urgent"
	PriorityCritical NotificationPriority = "critical"
)

// Rank упорядочивает приоритеты: CRITICAL > URGENT > HIGH > MEDIUM > LOW
func (p NotificationPriority) Rank() int {
	switch p {
	case PriorityCritical:
		return 5
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

type NotificationCategory string

const (
	CategoryBooking  NotificationCategory = "booking"
	CategoryTrip     NotificationCategory = "trip"
	CategoryPayment  NotificationCategory = "payment"
	CategoryAccount  NotificationCategory = "account"
	CategorySecurity NotificationCategory = "security"
	CategoryVehicle  NotificationCategory = "vehicle"
	CategorySystem   NotificationCategory = "system"
)

// AllCategories используется для настроек по умолчанию
var AllCategories = []NotificationCategory{
	CategoryBooking,
	CategoryTrip,
	CategoryPayment,
	CategoryAccount,
	CategorySecurity,
	CategoryVehicle,
	CategorySystem,
}

type NotificationType string

const (
	TypeBookingCreated     NotificationType = "booking_created"
	TypeBookingConfirmed   NotificationType = "booking_confirmed"
	TypeBookingStarted     NotificationType = "booking_started"
	TypeBookingCancelled   NotificationType = "booking_cancelled"
	TypeBookingRejected    NotificationType = "booking_rejected"
	TypeBookingCompleted   NotificationType = "booking_completed"
	TypeRatingRequest      NotificationType = "rating_request"
	TypeTripCreated        NotificationType = "trip_created"
	TypeTripCancelled      NotificationType = "trip_cancelled"
	TypeTripStarting       NotificationType = "trip_starting"
	TypeTripCompleted      NotificationType = "trip_completed"
	TypePaymentReceived    NotificationType = "payment_received"
	TypePaymentFailed      NotificationType = "payment_failed"
	TypeRegistration       NotificationType = "registration"
	TypePasswordChanged    NotificationType = "password_changed"
	TypeSecurityAlert      NotificationType = "security_alert"
	TypeVehicleStatus      NotificationType = "vehicle_status"
	TypeAccountSuspended   NotificationType = "account_suspended"
	TypeAccountReactivated NotificationType = "account_reactivated"
	TypeDeliveryFailed     NotificationType = "delivery_failed"
)

// Канал доставки уведомления
type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	// ChannelChat - оповещение операторов (Telegram/WhatsApp), не привязано к пользователю
	ChannelChat Channel = "chat"
)

// NotificationPayload - содержимое уведомления для одного получателя
type NotificationPayload struct {
	UserID      uint                 `json:"user_id"`
	Title       string               `json:"title"`
	Message     string               `json:"message"`
	Type        NotificationType     `json:"type"`
	Category    NotificationCategory `json:"category"`
	Priority    NotificationPriority `json:"priority"`
	RelatedID   string               `json:"related_id,omitempty"`
	RelatedType string               `json:"related_type,omitempty"`
	ActionURL   string               `json:"action_url,omitempty"`
	// SkipEmail запрещает email независимо от настроек получателя
	SkipEmail   bool                 `json:"skip_email,omitempty"`
	Metadata    MetadataField        `json:"metadata"`
}

type QueueStatus string

const (
	QueueStatusPending   QueueStatus = "pending"
	QueueStatusScheduled QueueStatus = "scheduled"
	QueueStatusSent      QueueStatus = "sent"
	QueueStatusDelivered QueueStatus = "delivered"
	QueueStatusFailed    QueueStatus = "failed"
	QueueStatusRetrying  QueueStatus = "retrying"
	QueueStatusExpired   QueueStatus = "expired"
)

// IsFinished сообщает, что элемент очереди больше не обрабатывается
func (s QueueStatus) IsFinished() bool {
	switch s {
	case QueueStatusSent, QueueStatusDelivered, QueueStatusFailed, QueueStatusExpired:
		return true
	}
	return false
}

// NotificationQueueItem - элемент очереди доставки
type NotificationQueueItem struct {
	ID                string               `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID            uint                 `json:"user_id" gorm:"index"`
	Title             string               `json:"title"`
	Message           string               `json:"message"`
	Type              NotificationType     `json:"type" gorm:"type:varchar(32)"`
	Category          NotificationCategory `json:"category" gorm:"type:varchar(32)"`
	Priority          NotificationPriority `json:"priority" gorm:"type:varchar(16)"`
	RelatedID         string               `json:"related_id,omitempty"`
	RelatedType       string               `json:"related_type,omitempty"`
	ActionURL         string               `json:"action_url,omitempty"`
	SkipEmail         bool                 `json:"skip_email"`
	Metadata          MetadataField        `json:"metadata" gorm:"type:jsonb"`
	Channels          pq.StringArray       `json:"channels" gorm:"type:text[]"`
	DeliveredChannels pq.StringArray       `json:"delivered_channels" gorm:"type:text[]"`
	DedupeKey         string               `json:"-" gorm:"type:varchar(64);index"`
	ScheduledFor      time.Time            `json:"scheduled_for" gorm:"index"`
	ExpiresAt         *time.Time           `json:"expires_at,omitempty"`
	Attempts          int                  `json:"attempts"`
	MaxAttempts       int                  `json:"max_attempts"`
	Status            QueueStatus          `json:"status" gorm:"type:varchar(16);index"`
	LastError         string               `json:"last_error,omitempty"`
	Escalated         bool                 `json:"escalated"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
	SentAt            *time.Time           `json:"sent_at,omitempty"`
	FailedAt          *time.Time           `json:"failed_at,omitempty"`
}

func (NotificationQueueItem) TableName() string {
	return "notification_queue"
}

// Payload восстанавливает исходное содержимое уведомления
func (q *NotificationQueueItem) Payload() NotificationPayload {
	return NotificationPayload{
		UserID:      q.UserID,
		Title:       q.Title,
		Message:     q.Message,
		Type:        q.Type,
		Category:    q.Category,
		Priority:    q.Priority,
		RelatedID:   q.RelatedID,
		RelatedType: q.RelatedType,
		ActionURL:   q.ActionURL,
		SkipEmail:   q.SkipEmail,
		Metadata:    q.Metadata,
	}
}

// HasDelivered сообщает, что канал уже отработал при предыдущей попытке
func (q *NotificationQueueItem) HasDelivered(ch Channel) bool {
	for _, c := range q.DeliveredChannels {
		if c == string(ch) {
			return true
		}
	}
	return false
}

// Notification - уведомление во входящих пользователя (in-app)
type Notification struct {
	ID          string               `json:"id" gorm:"primaryKey;type:varchar(36)"`
	UserID      uint                 `json:"user_id" gorm:"not null;index"`
	Title       string               `json:"title"`
	Message     string               `json:"message"`
	Type        NotificationType     `json:"type" gorm:"type:varchar(32)"`
	Category    NotificationCategory `json:"category" gorm:"type:varchar(32)"`
	Priority    NotificationPriority `json:"priority" gorm:"type:varchar(16)"`
	RelatedID   string               `json:"related_id,omitempty"`
	RelatedType string               `json:"related_type,omitempty"`
	ActionURL   string               `json:"action_url,omitempty"`
	Metadata    MetadataField        `json:"metadata" gorm:"type:jsonb"`
	Read        bool                 `json:"read" gorm:"index"`
	ReadAt      *time.Time           `json:"read_at,omitempty"`
	CreatedAt   time.Time            `json:"created_at" gorm:"index"`
}
