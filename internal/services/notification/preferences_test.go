package notification

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"intercity-backend/internal/db"
	"intercity-backend/internal/models"
)

func TestDefaultPreferencesByRole(t *testing.T) {
	p := DefaultPreferences(1, models.RolePassenger)
	if !p.PushEnabled || !p.EmailEnabled || p.SMSEnabled || p.MaxPerHour != 30 || p.MaxPerDay != 200 {
		t.Fatalf("unexpected passenger defaults: %+v", p)
	}
	d := DefaultPreferences(2, models.RoleDriver)
	if !d.SMSEnabled || d.MaxPerHour != 60 {
		t.Fatalf("unexpected driver defaults: %+v", d)
	}
	a := DefaultPreferences(3, models.RoleAdmin)
	if a.EmailEnabled || a.MaxPerHour != 0 || a.MaxPerDay != 0 {
		t.Fatalf("unexpected admin defaults: %+v", a)
	}
	if len(p.Categories) != len(models.AllCategories) || p.Language != DefaultLanguage {
		t.Fatalf("every category must be enabled by default: %+v", p.Categories)
	}
}

func TestPreferencesCreatedLazilyAndPatched(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.addUser(t, 2, models.RoleDriver, "Тимур")

	p, err := env.prefs.Get(ctx, 2)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !p.SMSEnabled {
		t.Fatal("driver defaults expected on first access")
	}

	updated, err := env.prefs.Update(ctx, 2, models.PreferencesPatch{
		SMSEnabled: boolPtr(false),
		MaxPerDay:  intPtr(5),
		Types: map[models.NotificationType]*models.CategoryPreference{
			models.TypeRatingRequest: {Enabled: false},
		},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.SMSEnabled || updated.MaxPerDay != 5 || updated.MaxPerHour != 60 {
		t.Fatalf("unexpected update result: %+v", updated)
	}

	removed, err := env.prefs.Update(ctx, 2, models.PreferencesPatch{
		Types: map[models.NotificationType]*models.CategoryPreference{models.TypeRatingRequest: nil},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, ok := removed.Types[models.TypeRatingRequest]; ok {
		t.Fatal("nil override must remove the type preference")
	}
}

func TestPreferencesRejectInvalidPatch(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	cases := []models.PreferencesPatch{
		{QuietHours: &models.QuietHours{Enabled: true, Start: "25:00", End: "07:00"}},
		{QuietHours: &models.QuietHours{Enabled: true, Start: "22:00", End: "07:00", Timezone: "Mars/Olympus"}},
		{MaxPerHour: intPtr(-1)},
		{Language: func() *string { s := "de"; return &s }()},
	}
	for i, patch := range cases {
		if _, err := env.prefs.Update(ctx, 1, patch); !errors.Is(err, ErrInvalidPreferences) {
			t.Fatalf("case %d: expected ErrInvalidPreferences, got %v", i, err)
		}
	}
}

func TestMemoryRateLimiterRollingWindows(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryRateLimiter()
	limits := RateLimits{PerHour: 2, PerDay: 3}
	now := testStart

	for i := 0; i < 2; i++ {
		if r, _ := l.Allow(ctx, 1, limits, now); r != "" {
			t.Fatalf("send %d blocked: %s", i, r)
		}
	}
	if r, _ := l.Allow(ctx, 1, limits, now); r != ReasonHourlyLimit {
		t.Fatalf("expected hourly limit, got %q", r)
	}

	now = now.Add(2 * time.Hour)
	if r, _ := l.Allow(ctx, 1, limits, now); r != "" {
		t.Fatalf("new hour must allow, got %q", r)
	}
	if r, _ := l.Allow(ctx, 1, limits, now); r != ReasonDailyLimit {
		t.Fatalf("expected daily limit, got %q", r)
	}

	now = now.Add(23 * time.Hour)
	if r, _ := l.Allow(ctx, 1, limits, now); r != "" {
		t.Fatalf("day window must roll over, got %q", r)
	}
	if r, _ := l.Allow(ctx, 2, limits, now); r != "" {
		t.Fatalf("limits are per user, got %q", r)
	}
}

func TestRedisRateLimiter(t *testing.T) {
	if os.Getenv("REDIS_HOST") == "" {
		t.Skip("REDIS_HOST не задан")
	}
	client, err := db.NewRedisClient(os.Getenv("REDIS_HOST"), os.Getenv("REDIS_PORT"), os.Getenv("REDIS_PASSWORD"))
	if err != nil {
		t.Skipf("redis недоступен: %v", err)
	}
	defer client.Close()

	ctx := context.Background()
	l := NewRedisRateLimiter(client)
	l.prefix = "test_notification_rate:" + time.Now().Format("150405.000000") + ":"
	defer client.Del(ctx, l.key(1))

	limits := RateLimits{PerHour: 1}
	if r, err := l.Allow(ctx, 1, limits, time.Now()); err != nil || r != "" {
		t.Fatalf("first send: %q %v", r, err)
	}
	if r, err := l.Allow(ctx, 1, limits, time.Now()); err != nil || r != ReasonHourlyLimit {
		t.Fatalf("second send: %q %v", r, err)
	}
}
