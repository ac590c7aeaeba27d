package notification

import (
	"context"
	"sync"
	"testing"
	"time"

	"intercity-backend/internal/models"
)

func testPayload(userID uint, priority models.NotificationPriority) models.NotificationPayload {
	return models.NotificationPayload{
		UserID:   userID,
		Title:    "t",
		Message:  "m",
		Type:     models.TypeBookingConfirmed,
		Category: models.CategoryBooking,
		Priority: priority,
	}
}

func TestSchedulerBackoffThenFailsWithSingleEscalation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.senders[models.ChannelEmail].failures = -1

	id, err := env.scheduler.Enqueue(ctx, testPayload(5, models.PriorityHigh), EnqueueOptions{
		Channels: []models.Channel{models.ChannelEmail},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if n := env.scheduler.Tick(ctx); n != 1 {
		t.Fatalf("first tick should process 1 item, got %d", n)
	}
	item, _ := env.scheduler.Status(ctx, id)
	if item.Attempts != 1 || item.Status != models.QueueStatusPending || !item.ScheduledFor.Equal(testStart.Add(2*time.Minute)) {
		t.Fatalf("after attempt 1: %+v", item)
	}

	env.clock.Advance(time.Minute)
	if n := env.scheduler.Tick(ctx); n != 0 {
		t.Fatalf("item must wait for backoff, processed %d", n)
	}

	env.clock.Advance(time.Minute)
	env.scheduler.Tick(ctx)
	item, _ = env.scheduler.Status(ctx, id)
	if item.Attempts != 2 || !item.ScheduledFor.Equal(testStart.Add(6*time.Minute)) {
		t.Fatalf("after attempt 2: %+v", item)
	}

	env.clock.Advance(4 * time.Minute)
	env.scheduler.Tick(ctx)
	item, _ = env.scheduler.Status(ctx, id)
	if item.Attempts != 3 || item.Status != models.QueueStatusFailed || !item.Escalated || item.FailedAt == nil {
		t.Fatalf("after attempt 3: %+v", item)
	}

	env.clock.Advance(time.Hour)
	env.scheduler.Tick(ctx)

	alerts := env.alerts.Sent()
	if len(alerts) != 1 {
		t.Fatalf("expected exactly one escalation alert, got %d", len(alerts))
	}
	if alerts[0].Type != models.TypeDeliveryFailed || alerts[0].RelatedID != id {
		t.Fatalf("unexpected alert: %+v", alerts[0])
	}
	if env.senders[models.ChannelEmail].Calls() != 3 {
		t.Fatalf("expected 3 send attempts, got %d", env.senders[models.ChannelEmail].Calls())
	}
}

func TestBackoff(t *testing.T) {
	for attempts, want := range map[int]time.Duration{1: 2 * time.Minute, 2: 4 * time.Minute, 3: 8 * time.Minute} {
		if got := Backoff(attempts); got != want {
			t.Fatalf("Backoff(%d) = %v, want %v", attempts, got, want)
		}
	}
}

func TestSchedulerOrdersByPriorityThenTime(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	ch := []models.Channel{models.ChannelInApp}

	enqueue := func(user uint, p models.NotificationPriority) {
		if _, err := env.scheduler.Enqueue(ctx, testPayload(user, p), EnqueueOptions{Channels: ch}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		env.clock.Advance(time.Second)
	}
	enqueue(1, models.PriorityLow)
	enqueue(2, models.PriorityMedium)
	enqueue(3, models.PriorityCritical)
	enqueue(4, models.PriorityMedium)
	enqueue(5, models.PriorityUrgent)

	env.scheduler.Tick(ctx)

	var order []uint
	for _, p := range env.senders[models.ChannelInApp].Sent() {
		order = append(order, p.UserID)
	}
	want := []uint{3, 5, 2, 4, 1}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
}

// blockingDeliverer держит первую доставку, пока тест не отпустит ее
type blockingDeliverer struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingDeliverer) Deliver(ctx context.Context, item *models.NotificationQueueItem) ([]models.Channel, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return []models.Channel{models.ChannelInApp}, nil
}

func TestSchedulerTickIsSingleFlight(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	d := &blockingDeliverer{started: make(chan struct{}), release: make(chan struct{})}
	sched := NewScheduler(env.store.Queue, d, nil, env.clock, SchedulerConfig{})

	if _, err := sched.Enqueue(ctx, testPayload(1, models.PriorityHigh), EnqueueOptions{Channels: []models.Channel{models.ChannelInApp}}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	done := make(chan int)
	go func() { done <- sched.Tick(ctx) }()
	<-d.started

	if n := sched.Tick(ctx); n != 0 {
		t.Fatalf("overlapping tick must be a no-op, processed %d", n)
	}
	close(d.release)
	if n := <-done; n != 1 {
		t.Fatalf("first tick should process 1 item, got %d", n)
	}
}

func TestSchedulerDoesNotResendDeliveredChannels(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.senders[models.ChannelEmail].failures = 1

	id, _ := env.scheduler.Enqueue(ctx, testPayload(1, models.PriorityMedium), EnqueueOptions{
		Channels: []models.Channel{models.ChannelInApp, models.ChannelEmail},
	})

	env.scheduler.Tick(ctx)
	env.clock.Advance(2 * time.Minute)
	env.scheduler.Tick(ctx)

	item, _ := env.scheduler.Status(ctx, id)
	if item.Status != models.QueueStatusSent || item.Attempts != 2 {
		t.Fatalf("unexpected item: %+v", item)
	}
	if n := env.senders[models.ChannelInApp].Calls(); n != 1 {
		t.Fatalf("in-app must be delivered once, got %d", n)
	}
	if n := env.senders[models.ChannelEmail].Calls(); n != 2 {
		t.Fatalf("email must be retried once, got %d calls", n)
	}
}

func TestSchedulerDedupeCancelAndStats(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	ch := []models.Channel{models.ChannelInApp}

	first, _ := env.scheduler.Enqueue(ctx, testPayload(1, models.PriorityHigh), EnqueueOptions{Channels: ch, DedupeKey: "k1"})
	second, _ := env.scheduler.Enqueue(ctx, testPayload(1, models.PriorityHigh), EnqueueOptions{Channels: ch, DedupeKey: "k1"})
	if first != second {
		t.Fatalf("dedupe key must return the existing item: %s != %s", first, second)
	}

	later, _ := env.scheduler.Enqueue(ctx, testPayload(2, models.PriorityLow), EnqueueOptions{
		Channels: ch, ScheduledFor: testStart.Add(time.Hour),
	})
	item, _ := env.scheduler.Status(ctx, later)
	if item.Status != models.QueueStatusScheduled {
		t.Fatalf("future item must be scheduled, got %s", item.Status)
	}

	ok, err := env.scheduler.Cancel(ctx, later)
	if err != nil || !ok {
		t.Fatalf("cancel scheduled item: %v %v", ok, err)
	}

	env.scheduler.Tick(ctx)
	if ok, _ := env.scheduler.Cancel(ctx, first); ok {
		t.Fatal("sent item must not be cancellable")
	}

	stats, err := env.scheduler.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 2 || stats.Sent != 1 || stats.Expired != 1 || stats.ByPriority[models.PriorityHigh] != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	if item, _ := env.scheduler.Status(ctx, "missing"); item != nil {
		t.Fatalf("unknown id must return nil, got %+v", item)
	}
}

func TestSchedulerExpiresAndSweeps(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	ch := []models.Channel{models.ChannelInApp}

	expiresAt := testStart.Add(-time.Minute)
	stale, _ := env.scheduler.Enqueue(ctx, testPayload(1, models.PriorityLow), EnqueueOptions{Channels: ch, ExpiresAt: &expiresAt})
	fresh, _ := env.scheduler.Enqueue(ctx, testPayload(2, models.PriorityLow), EnqueueOptions{Channels: ch})

	env.scheduler.Tick(ctx)
	if item, _ := env.scheduler.Status(ctx, stale); item.Status != models.QueueStatusExpired {
		t.Fatalf("stale item must expire, got %s", item.Status)
	}
	if item, _ := env.scheduler.Status(ctx, fresh); item.Status != models.QueueStatusSent {
		t.Fatalf("fresh item must be sent, got %s", item.Status)
	}

	env.clock.Advance(23 * time.Hour)
	if removed, _ := env.scheduler.Sweep(ctx); removed != 0 {
		t.Fatalf("nothing is older than retention yet, removed %d", removed)
	}
	env.clock.Advance(2 * time.Hour)
	if removed, _ := env.scheduler.Sweep(ctx); removed != 2 {
		t.Fatalf("expected both finished items removed, got %d", removed)
	}
}

func TestSchedulerRunLoopProcessesOnWake(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env.scheduler.Start(ctx)
	defer env.scheduler.Stop()

	if _, err := env.scheduler.Enqueue(ctx, testPayload(1, models.PriorityHigh), EnqueueOptions{
		Channels: []models.Channel{models.ChannelInApp},
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for len(env.senders[models.ChannelInApp].Sent()) == 0 {
		select {
		case <-deadline:
			t.Fatal("due item was not delivered after enqueue")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSchedulerSkipsItemCancelledDuringTick(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	sched := NewScheduler(env.store.Queue, NewDispatcher(env.store.Users, env.channelSenders()), env.alerts, env.clock, SchedulerConfig{
		InterItemDelay: time.Second,
	})
	ch := []models.Channel{models.ChannelInApp}

	first, _ := sched.Enqueue(ctx, testPayload(1, models.PriorityHigh), EnqueueOptions{Channels: ch})
	second, _ := sched.Enqueue(ctx, testPayload(2, models.PriorityLow), EnqueueOptions{Channels: ch})

	done := make(chan int)
	go func() { done <- sched.Tick(ctx) }()

	// Tick отправил первый элемент и ждет паузу перед вторым
	waitUntil(t, func() bool { return env.clock.Waiters() == 1 })
	ok, err := sched.Cancel(ctx, second)
	if err != nil || !ok {
		t.Fatalf("cancel waiting item: %v %v", ok, err)
	}
	env.clock.Advance(time.Second)

	if n := <-done; n != 1 {
		t.Fatalf("only the first item must be processed, got %d", n)
	}
	if item, _ := sched.Status(ctx, second); item.Status != models.QueueStatusExpired || item.Attempts != 0 {
		t.Fatalf("cancelled item must stay expired, got %+v", item)
	}
	if item, _ := sched.Status(ctx, first); item.Status != models.QueueStatusSent {
		t.Fatalf("first item must be sent, got %s", item.Status)
	}
	if n := env.senders[models.ChannelInApp].Calls(); n != 1 {
		t.Fatalf("cancelled item must not be delivered, got %d sends", n)
	}
}

func TestSchedulerItemInFlightCannotBeCancelled(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	d := &blockingDeliverer{started: make(chan struct{}), release: make(chan struct{})}
	sched := NewScheduler(env.store.Queue, d, nil, env.clock, SchedulerConfig{})

	id, _ := sched.Enqueue(ctx, testPayload(1, models.PriorityHigh), EnqueueOptions{Channels: []models.Channel{models.ChannelInApp}})

	done := make(chan int)
	go func() { done <- sched.Tick(ctx) }()
	<-d.started

	if item, _ := sched.Status(ctx, id); item.Status != models.QueueStatusRetrying {
		t.Fatalf("item being sent must be retrying, got %s", item.Status)
	}
	if ok, _ := sched.Cancel(ctx, id); ok {
		t.Fatal("item being sent must not be cancellable")
	}
	close(d.release)
	<-done

	if item, _ := sched.Status(ctx, id); item.Status != models.QueueStatusSent {
		t.Fatalf("delivery result must be kept, got %s", item.Status)
	}
}

func TestSchedulerStatsBucketsAreExclusive(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.senders[models.ChannelEmail].failures = -1

	if _, err := env.scheduler.Enqueue(ctx, testPayload(1, models.PriorityHigh), EnqueueOptions{Channels: []models.Channel{models.ChannelEmail}}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	env.scheduler.Tick(ctx)
	if _, err := env.scheduler.Enqueue(ctx, testPayload(2, models.PriorityLow), EnqueueOptions{Channels: []models.Channel{models.ChannelInApp}}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	stats, err := env.scheduler.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 2 || stats.Pending != 1 || stats.Retrying != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	sum := stats.Pending + stats.Scheduled + stats.Sent + stats.Delivered + stats.Failed + stats.Retrying + stats.Expired
	if sum != stats.Total {
		t.Fatalf("buckets must add up to total: %d != %d", sum, stats.Total)
	}
}

func TestSchedulerResumesInterruptedSends(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	stuck := models.NotificationQueueItem{
		ID: "stuck", UserID: 1, Type: models.TypeBookingConfirmed, Priority: models.PriorityHigh,
		Channels: []string{string(models.ChannelInApp)}, MaxAttempts: 3, Attempts: 1,
		Status: models.QueueStatusRetrying, ScheduledFor: testStart, CreatedAt: testStart, UpdatedAt: testStart,
	}
	if err := env.store.Queue.Upsert(ctx, &stuck); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	env.scheduler.resume(ctx)
	if n := env.scheduler.Tick(ctx); n != 1 {
		t.Fatalf("interrupted item must be processed again, got %d", n)
	}
	if item, _ := env.scheduler.Status(ctx, "stuck"); item.Status != models.QueueStatusSent || item.Attempts != 2 {
		t.Fatalf("unexpected item: %+v", item)
	}
}
