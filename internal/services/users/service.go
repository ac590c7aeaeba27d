// Package users ведет справочник пользователей, из которого уведомления
// берут имена, контакты и язык получателя
package users

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"sync"
	"time"

	"intercity-backend/internal/models"
	"intercity-backend/internal/repository"
	"intercity-backend/internal/services/notification"
	"intercity-backend/internal/utils"
)

var (
	ErrNotFound       = errors.New("пользователь не найден")
	ErrInvalidProfile = errors.New("неверные данные профиля")
)

type Notifier interface {
	Notify(ctx context.Context, ev notification.Event) notification.EnqueueReport
}

type Service struct {
	users    repository.UserRepository
	notifier Notifier
	clock    utils.Clock

	// known - пользователи, уже проверенные этим процессом
	known sync.Map
}

func NewService(users repository.UserRepository, notifier Notifier, clock utils.Clock) *Service {
	return &Service{users: users, notifier: notifier, clock: clock}
}

// Ensure создает запись пользователя при первом запросе с его токеном.
// Новый пользователь получает приветственное уведомление
func (s *Service) Ensure(ctx context.Context, id uint, role models.UserRole) error {
	if id == 0 {
		return nil
	}
	if _, ok := s.known.Load(id); ok {
		return nil
	}

	now := s.clock.Now()
	u := &models.User{ID: id, Role: role, Language: notification.DefaultLanguage, CreatedAt: now, UpdatedAt: now}
	created, err := s.users.CreateIfMissing(ctx, u)
	if err != nil {
		return fmt.Errorf("ошибка при регистрации пользователя %d: %w", id, err)
	}
	s.known.Store(id, struct{}{})

	if created {
		log.Printf("Users: зарегистрирован пользователь %d (%s)", id, role)
		if s.notifier != nil {
			s.notifier.Notify(ctx, notification.Event{Type: models.TypeRegistration, Actor: models.ActorSystem, SubjectUserID: id})
		}
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id uint) (*models.User, error) {
	u, err := s.users.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return u, err
}

// UpdateProfile меняет только переданные поля профиля
func (s *Service) UpdateProfile(ctx context.Context, id uint, req models.UserProfileUpdate) (*models.User, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.FirstName != nil {
		u.FirstName = strings.TrimSpace(*req.FirstName)
	}
	if req.LastName != nil {
		u.LastName = strings.TrimSpace(*req.LastName)
	}
	if req.Phone != nil {
		phone := strings.TrimSpace(*req.Phone)
		if phone != "" && (len(phone) < 10 || len(phone) > 20) {
			return nil, fmt.Errorf("%w: телефон %q", ErrInvalidProfile, phone)
		}
		u.Phone = phone
	}
	if req.Email != nil {
		email := strings.TrimSpace(*req.Email)
		if email != "" {
			if _, err := mail.ParseAddress(email); err != nil {
				return nil, fmt.Errorf("%w: email %q", ErrInvalidProfile, email)
			}
		}
		u.Email = email
	}
	if req.Language != nil {
		if !notification.SupportedLanguage(*req.Language) {
			return nil, fmt.Errorf("%w: язык %q", ErrInvalidProfile, *req.Language)
		}
		u.Language = *req.Language
	}
	if req.Timezone != nil {
		if _, err := time.LoadLocation(*req.Timezone); err != nil {
			return nil, fmt.Errorf("%w: часовой пояс %q", ErrInvalidProfile, *req.Timezone)
		}
		u.Timezone = *req.Timezone
	}

	u.UpdatedAt = s.clock.Now()
	if err := s.users.Update(ctx, u); err != nil {
		return nil, fmt.Errorf("ошибка при обновлении профиля: %w", err)
	}
	return u, nil
}

// UpdateFCMToken сохраняет токен устройства для push уведомлений
func (s *Service) UpdateFCMToken(ctx context.Context, id uint, token string) error {
	u, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	u.FCMToken = token
	u.UpdatedAt = s.clock.Now()
	if err := s.users.Update(ctx, u); err != nil {
		return fmt.Errorf("ошибка при обновлении FCM токена: %w", err)
	}
	return nil
}
