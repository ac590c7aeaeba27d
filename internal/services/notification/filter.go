package notification

import (
	"context"
	"fmt"
	"log"
	"time"

	"intercity-backend/internal/models"
	"intercity-backend/internal/utils"
)

// Reason объясняет, почему уведомление не отправлено
type Reason string

const (
	ReasonGlobalDisabled   Reason = "notifications_disabled"
	ReasonQuietHours       Reason = "quiet_hours"
	ReasonCategoryDisabled Reason = "category_disabled"
	ReasonTypeDisabled     Reason = "type_disabled"
	ReasonHourlyLimit      Reason = "hourly_limit"
	ReasonDailyLimit       Reason = "daily_limit"
)

// Decision - результат проверки настроек получателя
type Decision struct {
	Send     bool                `json:"send"`
	Channels models.ChannelFlags `json:"channels"`
	Reason   Reason              `json:"reason,omitempty"`
}

// Filter применяет настройки пользователя к уведомлению
type Filter struct {
	prefs      *PreferenceService
	limiter    RateLimiter
	clock      utils.Clock
	defaultLoc *time.Location
}

func NewFilter(prefs *PreferenceService, limiter RateLimiter, clock utils.Clock, defaultLoc *time.Location) *Filter {
	if defaultLoc == nil {
		defaultLoc = time.UTC
	}
	return &Filter{prefs: prefs, limiter: limiter, clock: clock, defaultLoc: defaultLoc}
}

// Decide проверяет правила по порядку, первое сработавшее правило запрещает отправку.
// Лимит учитывает отправку только при положительном решении
func (f *Filter) Decide(ctx context.Context, userID uint, typ models.NotificationType, category models.NotificationCategory, priority models.NotificationPriority) (Decision, error) {
	p, err := f.prefs.Get(ctx, userID)
	if err != nil {
		return Decision{}, fmt.Errorf("ошибка при получении настроек пользователя %d: %w", userID, err)
	}

	if !p.NotificationsEnabled {
		return Decision{Reason: ReasonGlobalDisabled}, nil
	}

	now := f.clock.Now()
	if priority != models.PriorityCritical && f.inQuietHours(p.QuietHours, now) {
		return Decision{Reason: ReasonQuietHours}, nil
	}

	catPref, ok := p.Categories[category]
	if !ok {
		catPref = models.CategoryPreference{Enabled: true, Channels: models.ChannelFlags{Push: true, Email: true, SMS: true}}
	}
	if !catPref.Enabled {
		return Decision{Reason: ReasonCategoryDisabled}, nil
	}

	effective := catPref
	if typePref, ok := p.Types[typ]; ok {
		if !typePref.Enabled {
			return Decision{Reason: ReasonTypeDisabled}, nil
		}
		effective = typePref
	}

	if f.limiter != nil && (p.MaxPerHour > 0 || p.MaxPerDay > 0) {
		reason, err := f.limiter.Allow(ctx, userID, RateLimits{PerHour: p.MaxPerHour, PerDay: p.MaxPerDay}, now)
		if err != nil {
			// лимитер недоступен - не блокируем уведомление
			log.Printf("Notification: лимитер недоступен для пользователя %d: %v", userID, err)
		} else if reason != "" {
			return Decision{Reason: reason}, nil
		}
	}

	return Decision{Send: true, Channels: p.GlobalChannels().And(effective.Channels)}, nil
}

func (f *Filter) inQuietHours(q models.QuietHours, now time.Time) bool {
	if !q.Enabled {
		return false
	}
	start, err := parseClock(q.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(q.End)
	if err != nil {
		return false
	}

	loc := f.defaultLoc
	if q.Timezone != "" {
		if l, err := time.LoadLocation(q.Timezone); err == nil {
			loc = l
		}
	}
	local := now.In(loc)
	return inWindow(local.Hour()*60+local.Minute(), start, end)
}

// inWindow проверяет попадание минуты суток в окно [start, end),
// окно с start > end переходит через полночь
func inWindow(minute, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}

// parseClock разбирает "HH:MM" в минуты от начала суток
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("ожидается формат HH:MM, получено %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}
