package users

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"intercity-backend/internal/models"
	"intercity-backend/internal/repository"
	"intercity-backend/internal/services/notification"
	"intercity-backend/internal/utils"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notification.Event
}

func (r *recordingNotifier) Notify(_ context.Context, ev notification.Event) notification.EnqueueReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return notification.EnqueueReport{}
}

func newTestService() (*Service, *repository.Store, *recordingNotifier) {
	store := repository.NewMemoryStore()
	notifier := &recordingNotifier{}
	clock := utils.NewFakeClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	return NewService(store.Users, notifier, clock), store, notifier
}

func strPtr(s string) *string { return &s }

func TestEnsureRegistersUserOnce(t *testing.T) {
	ctx := context.Background()
	svc, store, notifier := newTestService()

	for i := 0; i < 3; i++ {
		if err := svc.Ensure(ctx, 50, models.RolePassenger); err != nil {
			t.Fatalf("ensure: %v", err)
		}
	}

	u, err := store.Users.Get(ctx, 50)
	if err != nil {
		t.Fatalf("user not created: %v", err)
	}
	if u.Role != models.RolePassenger || u.Language != notification.DefaultLanguage {
		t.Fatalf("unexpected user: %+v", u)
	}
	if len(notifier.events) != 1 || notifier.events[0].Type != models.TypeRegistration || notifier.events[0].SubjectUserID != 50 {
		t.Fatalf("expected one registration event, got %+v", notifier.events)
	}
}

func TestEnsureKeepsExistingUser(t *testing.T) {
	ctx := context.Background()
	svc, store, notifier := newTestService()
	if err := store.Users.Create(ctx, &models.User{ID: 7, Role: models.RoleDriver, FirstName: "Тимур"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.Ensure(ctx, 7, models.RoleDriver); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if u, _ := store.Users.Get(ctx, 7); u.FirstName != "Тимур" {
		t.Fatalf("existing profile overwritten: %+v", u)
	}
	if len(notifier.events) != 0 {
		t.Fatalf("existing user must not be greeted, got %+v", notifier.events)
	}
}

func TestUpdateProfile(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()
	if err := svc.Ensure(ctx, 50, models.RolePassenger); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	u, err := svc.UpdateProfile(ctx, 50, models.UserProfileUpdate{
		FirstName: strPtr(" Анна "),
		Phone:     strPtr("+77011234567"),
		Email:     strPtr("anna@example.com"),
		Timezone:  strPtr("Asia/Almaty"),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if u.FirstName != "Анна" || u.Phone != "+77011234567" || u.Timezone != "Asia/Almaty" {
		t.Fatalf("unexpected profile: %+v", u)
	}

	got, _ := svc.Get(ctx, 50)
	if got.Email != "anna@example.com" {
		t.Fatalf("profile not stored: %+v", got)
	}
}

func TestUpdateProfileRejectsInvalidFields(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()
	if err := svc.Ensure(ctx, 50, models.RolePassenger); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	cases := map[string]models.UserProfileUpdate{
		"phone":    {Phone: strPtr("123")},
		"email":    {Email: strPtr("not-an-email")},
		"language": {Language: strPtr("xx")},
		"timezone": {Timezone: strPtr("Mars/Olympus")},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.UpdateProfile(ctx, 50, req); !errors.Is(err, ErrInvalidProfile) {
				t.Fatalf("expected ErrInvalidProfile, got %v", err)
			}
		})
	}
}

func TestUpdateFCMToken(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService()

	if err := svc.UpdateFCMToken(ctx, 50, "token"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := svc.Ensure(ctx, 50, models.RolePassenger); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := svc.UpdateFCMToken(ctx, 50, "token"); err != nil {
		t.Fatalf("update token: %v", err)
	}
	if u, _ := store.Users.Get(ctx, 50); u.FCMToken != "token" {
		t.Fatalf("token not stored: %+v", u)
	}
}
