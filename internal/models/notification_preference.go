package models

import (
	"time"
)

// ChannelFlags - включенные каналы доставки
type ChannelFlags struct {
	Push  bool `json:"push"`
	Email bool `json:"email"`
	SMS   bool `json:"sms"`
}

// And возвращает поканальное логическое И
func (c ChannelFlags) And(o ChannelFlags) ChannelFlags {
	return ChannelFlags{
		Push:  c.Push && o.Push,
		Email: c.Email && o.Email,
		SMS:   c.SMS && o.SMS,
	}
}

// CategoryPreference - настройка категории или конкретного типа уведомлений
type CategoryPreference struct {
	Enabled  bool                 `json:"enabled"`
	Priority NotificationPriority `json:"priority,omitempty"`
	Channels ChannelFlags         `json:"channels"`
}

// QuietHours - окно тишины в локальном времени пользователя, формат HH:MM
type QuietHours struct {
	Enabled  bool   `json:"enabled"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone,omitempty"`
}

// NotificationPreferences - настройки уведомлений пользователя, одна запись на пользователя
type NotificationPreferences struct {
	UserID               uint                                        `json:"user_id" gorm:"primaryKey;autoIncrement:false"`
	NotificationsEnabled bool                                        `json:"notifications_enabled"`
	PushEnabled          bool                                        `json:"push_enabled"`
	EmailEnabled         bool                                        `json:"email_enabled"`
	SMSEnabled           bool                                        `json:"sms_enabled"`
	QuietHours           QuietHours                                  `json:"quiet_hours" gorm:"embedded;embeddedPrefix:quiet_"`
	Categories           map[NotificationCategory]CategoryPreference `json:"categories" gorm:"serializer:json"`
	Types                map[NotificationType]CategoryPreference     `json:"types" gorm:"serializer:json"`
	MaxPerHour           int                                         `json:"max_per_hour"`
	MaxPerDay            int                                         `json:"max_per_day"`
	Language             string                                      `json:"language" gorm:"type:varchar(5)"`
	CreatedAt            time.Time                                   `json:"created_at"`
	UpdatedAt            time.Time                                   `json:"updated_at"`
}

// GlobalChannels возвращает глобальные переключатели каналов
func (p *NotificationPreferences) GlobalChannels() ChannelFlags {
	return ChannelFlags{Push: p.PushEnabled, Email: p.EmailEnabled, SMS: p.SMSEnabled}
}

// Clone возвращает копию без общих map
func (p *NotificationPreferences) Clone() *NotificationPreferences {
	c := *p
	c.Categories = make(map[NotificationCategory]CategoryPreference, len(p.Categories))
	for k, v := range p.Categories {
		c.Categories[k] = v
	}
	c.Types = make(map[NotificationType]CategoryPreference, len(p.Types))
	for k, v := range p.Types {
		c.Types[k] = v
	}
	return &c
}

// PreferencesPatch - частичное обновление настроек, nil поля не меняются
type PreferencesPatch struct {
	NotificationsEnabled *bool                                       `json:"notifications_enabled"`
	PushEnabled          *bool                                       `json:"push_enabled"`
	EmailEnabled         *bool                                       `json:"email_enabled"`
	SMSEnabled           *bool                                       `json:"sms_enabled"`
	QuietHours           *QuietHours                                 `json:"quiet_hours"`
	Categories           map[NotificationCategory]CategoryPreference `json:"categories"`
	Types                map[NotificationType]*CategoryPreference    `json:"types"`
	MaxPerHour           *int                                        `json:"max_per_hour"`
	MaxPerDay            *int                                        `json:"max_per_day"`
	Language             *string                                     `json:"language"`
}

// Apply применяет патч. Тип с nil значением удаляет переопределение
func (p *NotificationPreferences) Apply(patch PreferencesPatch) {
	if patch.NotificationsEnabled != nil {
		p.NotificationsEnabled = *patch.NotificationsEnabled
	}
	if patch.PushEnabled != nil {
		p.PushEnabled = *patch.PushEnabled
	}
	if patch.EmailEnabled != nil {
		p.EmailEnabled = *patch.EmailEnabled
	}
	if patch.SMSEnabled != nil {
		p.SMSEnabled = *patch.SMSEnabled
	}
	if patch.QuietHours != nil {
		p.QuietHours = *patch.QuietHours
	}
	if p.Categories == nil {
		p.Categories = make(map[NotificationCategory]CategoryPreference)
	}
	for k, v := range patch.Categories {
		p.Categories[k] = v
	}
	if p.Types == nil {
		p.Types = make(map[NotificationType]CategoryPreference)
	}
	for k, v := range patch.Types {
		if v == nil {
			delete(p.Types, k)
			continue
		}
		p.Types[k] = *v
	}
	if patch.MaxPerHour != nil {
		p.MaxPerHour = *patch.MaxPerHour
	}
	if patch.MaxPerDay != nil {
		p.MaxPerDay = *patch.MaxPerDay
	}
	if patch.Language != nil {
		p.Language = *patch.Language
	}
}
