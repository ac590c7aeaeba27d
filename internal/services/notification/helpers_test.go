package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"intercity-backend/internal/models"
	"intercity-backend/internal/repository"
	"intercity-backend/internal/utils"
)

var testStart = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// fakeSender запоминает отправленные уведомления, первые failures вызовов
// завершаются ошибкой, failures < 0 - ошибка всегда
type fakeSender struct {
	mu       sync.Mutex
	failures int
	calls    int
	sent     []models.NotificationPayload
}

func (f *fakeSender) Send(_ context.Context, _ *models.User, p models.NotificationPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.failures < 0 || f.calls <= f.failures {
		return errors.New("канал недоступен")
	}
	f.sent = append(f.sent, p)
	return nil
}

func (f *fakeSender) Sent() []models.NotificationPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.NotificationPayload(nil), f.sent...)
}

func (f *fakeSender) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type testEnv struct {
	store     *repository.Store
	clock     *utils.FakeClock
	prefs     *PreferenceService
	limiter   *MemoryRateLimiter
	filter    *Filter
	composer  *Composer
	scheduler *Scheduler
	service   *Service
	senders   map[models.Channel]*fakeSender
	alerts    *fakeSender
}

func newTestEnv(t *testing.T, adminIDs ...uint) *testEnv {
	t.Helper()

	env := &testEnv{
		store:   repository.NewMemoryStore(),
		clock:   utils.NewFakeClock(testStart),
		limiter: NewMemoryRateLimiter(),
		senders: map[models.Channel]*fakeSender{
			models.ChannelInApp: {},
			models.ChannelPush:  {},
			models.ChannelEmail: {},
			models.ChannelSMS:   {},
			models.ChannelChat:  {},
		},
		alerts: &fakeSender{},
	}
	env.prefs = NewPreferenceService(env.store, env.clock)
	env.filter = NewFilter(env.prefs, env.limiter, env.clock, time.UTC)
	env.composer = NewComposer(env.store.Users, env.prefs, env.clock, adminIDs, 0)

	senders := make(map[models.Channel]ChannelSender, len(env.senders))
	for ch, s := range env.senders {
		senders[ch] = s
	}
	env.scheduler = NewScheduler(env.store.Queue, NewDispatcher(env.store.Users, senders), env.alerts, env.clock, SchedulerConfig{})
	env.service = NewService(env.composer, env.filter, env.scheduler, env.prefs)
	t.Cleanup(env.service.Close)
	return env
}

// channelSenders возвращает фейковые каналы как ChannelSender
func (e *testEnv) channelSenders() map[models.Channel]ChannelSender {
	senders := make(map[models.Channel]ChannelSender, len(e.senders))
	for ch, s := range e.senders {
		senders[ch] = s
	}
	return senders
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func (e *testEnv) addUser(t *testing.T, id uint, role models.UserRole, name string) *models.User {
	t.Helper()
	u := &models.User{ID: id, FirstName: name, Role: role, Phone: fmt.Sprintf("7700000%04d", id), Email: name + "@example.com", FCMToken: "token-" + name}
	if err := e.store.Users.Create(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func (e *testEnv) queued(t *testing.T) []models.NotificationQueueItem {
	t.Helper()
	items, err := e.store.Queue.ListByStatus(context.Background())
	if err != nil {
		t.Fatalf("list queue: %v", err)
	}
	return items
}

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }
