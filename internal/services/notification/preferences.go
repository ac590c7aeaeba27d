package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"intercity-backend/internal/models"
	"intercity-backend/internal/repository"
	"intercity-backend/internal/utils"
)

// ErrInvalidPreferences - некорректное обновление настроек
var ErrInvalidPreferences = errors.New("некорректные настройки уведомлений")

const DefaultLanguage = "ru"

var supportedLanguages = map[string]bool{"ru": true, "en": true}

// SupportedLanguage сообщает, есть ли шаблоны на языке lang
func SupportedLanguage(lang string) bool {
	return supportedLanguages[lang]
}

// DefaultPreferences возвращает настройки по умолчанию для роли
func DefaultPreferences(userID uint, role models.UserRole) *models.NotificationPreferences {
	p := &models.NotificationPreferences{
		UserID:               userID,
		NotificationsEnabled: true,
		PushEnabled:          true,
		Categories:           make(map[models.NotificationCategory]models.CategoryPreference, len(models.AllCategories)),
		Types:                make(map[models.NotificationType]models.CategoryPreference),
		Language:             DefaultLanguage,
	}

	switch role {
	case models.RoleDriver:
		p.EmailEnabled = true
		p.SMSEnabled = true
		p.MaxPerHour = 60
		p.MaxPerDay = 400
	case models.RoleAdmin:
		// без лимитов, только push
	default:
		p.EmailEnabled = true
		p.MaxPerHour = 30
		p.MaxPerDay = 200
	}

	all := models.ChannelFlags{Push: true, Email: true, SMS: true}
	for _, c := range models.AllCategories {
		p.Categories[c] = models.CategoryPreference{Enabled: true, Channels: all}
	}
	return p
}

// PreferenceService хранит настройки уведомлений и создает их при первом обращении
type PreferenceService struct {
	store *repository.Store
	clock utils.Clock

	// сериализует ленивое создание и обновления одного процесса
	mu sync.Mutex
}

func NewPreferenceService(store *repository.Store, clock utils.Clock) *PreferenceService {
	return &PreferenceService{store: store, clock: clock}
}

// Get возвращает настройки пользователя, создавая их по роли при отсутствии
func (s *PreferenceService) Get(ctx context.Context, userID uint) (*models.NotificationPreferences, error) {
	p, err := s.store.Preferences.Get(ctx, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadOrCreate(ctx, userID)
}

func (s *PreferenceService) loadOrCreate(ctx context.Context, userID uint) (*models.NotificationPreferences, error) {
	p, err := s.store.Preferences.Get(ctx, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	role := models.RolePassenger
	user, err := s.store.Users.Get(ctx, userID)
	switch {
	case err == nil:
		role = user.Role
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	p = DefaultPreferences(userID, role)
	if user != nil && supportedLanguages[user.Language] {
		p.Language = user.Language
	}
	now := s.clock.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	if err := s.store.Preferences.Upsert(ctx, p); err != nil {
		return nil, fmt.Errorf("ошибка при создании настроек уведомлений: %w", err)
	}
	return p, nil
}

// Update применяет частичное обновление настроек
func (s *PreferenceService) Update(ctx context.Context, userID uint, patch models.PreferencesPatch) (*models.NotificationPreferences, error) {
	if err := validatePatch(patch); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.loadOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	p.Apply(patch)
	p.UpdatedAt = s.clock.Now()
	if err := s.store.Preferences.Upsert(ctx, p); err != nil {
		return nil, fmt.Errorf("ошибка при сохранении настроек уведомлений: %w", err)
	}
	return p, nil
}

func validatePatch(patch models.PreferencesPatch) error {
	if q := patch.QuietHours; q != nil && q.Enabled {
		if _, err := parseClock(q.Start); err != nil {
			return fmt.Errorf("%w: начало тихих часов: %v", ErrInvalidPreferences, err)
		}
		if _, err := parseClock(q.End); err != nil {
			return fmt.Errorf("%w: конец тихих часов: %v", ErrInvalidPreferences, err)
		}
		if q.Timezone != "" {
			if _, err := time.LoadLocation(q.Timezone); err != nil {
				return fmt.Errorf("%w: часовой пояс %q", ErrInvalidPreferences, q.Timezone)
			}
		}
	}
	if patch.MaxPerHour != nil && *patch.MaxPerHour < 0 {
		return fmt.Errorf("%w: max_per_hour < 0", ErrInvalidPreferences)
	}
	if patch.MaxPerDay != nil && *patch.MaxPerDay < 0 {
		return fmt.Errorf("%w: max_per_day < 0", ErrInvalidPreferences)
	}
	if patch.Language != nil && !supportedLanguages[*patch.Language] {
		return fmt.Errorf("%w: язык %q не поддерживается", ErrInvalidPreferences, *patch.Language)
	}
	return nil
}
