// Rollcall - Academy Attendance Notification Pipeline
// Copyright 2026 GoldPen Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/goldpen/rollcall

package consumer

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/goldpen/rollcall/internal/cache"
	"github.com/goldpen/rollcall/internal/clock"
	"github.com/goldpen/rollcall/internal/config"
	"github.com/goldpen/rollcall/internal/gateway"
	"github.com/goldpen/rollcall/internal/logging"
	"github.com/goldpen/rollcall/internal/models"
	"github.com/goldpen/rollcall/internal/notify"
	"github.com/goldpen/rollcall/internal/pipeline"
	"github.com/goldpen/rollcall/internal/store"
)

type fakeGateway struct {
	mu    sync.Mutex
	sends int
}

func (f *fakeGateway) Send(_ context.Context, _ gateway.SendRequest) (gateway.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends++
	return gateway.SendResult{Delivered: true, ProviderID: "M1"}, nil
}

func (f *fakeGateway) Configured() bool { return true }

func (f *fakeGateway) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sends
}

type nullMonitor struct{}

func (nullMonitor) Notify(context.Context, string) error { return nil }

// realConsumer wires the consumer to the full notifier stack so the
// dedup guard, ledger gate and message log all participate.
func realConsumer(t *testing.T, mem *store.Memory) (*Consumer, *fakeGateway) {
	t.Helper()
	c := cache.New(time.Minute)
	t.Cleanup(c.Close)

	log := logging.NewTestLogger(io.Discard)
	client := &fakeGateway{}
	notifier := notify.New(mem, client, nullMonitor{}, gateway.NewResolver(mem, c, time.Minute), 12, log)

	cfg := config.ConsumerConfig{Enabled: true, HandlerTimeout: 25 * time.Second, DrainBatchSize: 50}
	return New(mem, notifier, clock.Fixed{T: testDay}, cfg, log), client
}

func seedTenantStudent(mem *store.Memory, free int64) {
	mem.AddTenant(models.Tenant{
		ID: "t1", Name: "Alpha", Type: models.TenantStudyRoom, Active: true,
		Settings: models.DefaultTenantSettings(),
	}, models.Balance{Free: free})
	mem.AddStudent(models.Student{
		ID: "st1", TenantID: "t1", Name: "Kim", GuardianPhone: "010", Active: true,
	})
}

func enqueue(t *testing.T, mem *store.Memory, id string, kind models.NotificationKind, reason string) {
	t.Helper()
	err := mem.EnqueueEntry(context.Background(), models.QueueEntry{
		ID: id, TenantID: "t1", StudentID: "st1", Kind: kind, Reason: reason,
		Status: models.QueueEntryPending, OccurredAt: testDay.Add(10 * time.Hour),
		CreatedAt: testDay.Add(10 * time.Hour),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
}

func drainJob() *pipeline.JobMessage {
	j := pipeline.NewSystemJobMessage(pipeline.JobProcessNotificationQueue, clock.TickAt(testDay.Add(10*time.Hour)))
	return &j
}

func TestDrainDeliversEntriesExactlyOnce(t *testing.T) {
	mem := store.NewMemory()
	seedTenantStudent(mem, 1000)
	consumer, client := realConsumer(t, mem)

	enqueue(t, mem, "q1", models.KindOuting, "병원")
	enqueue(t, mem, "q2", models.KindReturn, "")

	if err := consumer.Dispatch(context.Background(), drainJob()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if client.count() != 2 {
		t.Errorf("provider sends = %d, want both entries delivered", client.count())
	}
	for _, id := range []string{"q1", "q2"} {
		e, ok := mem.Entry(id)
		if !ok || e.Status != models.QueueEntrySent {
			t.Errorf("entry %s = %+v, want sent", id, e)
		}
	}

	// A second drain pass finds nothing pending.
	if err := consumer.Dispatch(context.Background(), drainJob()); err != nil {
		t.Fatalf("second drain: %v", err)
	}
	if client.count() != 2 {
		t.Errorf("second drain re-sent entries: sends = %d", client.count())
	}
}

func TestDrainOutingCarriesReason(t *testing.T) {
	mem := store.NewMemory()
	seedTenantStudent(mem, 1000)
	consumer, _ := realConsumer(t, mem)

	enqueue(t, mem, "q1", models.KindOuting, "병원")

	if err := consumer.Dispatch(context.Background(), drainJob()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	msgs := mem.Messages()
	if len(msgs) != 1 {
		t.Fatalf("message logs = %d", len(msgs))
	}
	if !strings.Contains(msgs[0].Body, "병원") {
		t.Errorf("body = %q, want reason rendered", msgs[0].Body)
	}
}

func TestDrainRetryBudgetExhausts(t *testing.T) {
	mem := store.NewMemory()
	// No balance: every delivery attempt is refused, which counts
	// against the entry's retry budget.
	seedTenantStudent(mem, 0)
	consumer, client := realConsumer(t, mem)

	enqueue(t, mem, "q1", models.KindCheckIn, "")

	for i := 0; i < models.MaxQueueEntryRetries; i++ {
		if err := consumer.Dispatch(context.Background(), drainJob()); err != nil {
			t.Fatalf("drain %d: %v", i, err)
		}
	}

	e, ok := mem.Entry("q1")
	if !ok || e.Status != models.QueueEntryFailed {
		t.Fatalf("entry = %+v, want failed after retry budget", e)
	}
	if e.RetryCount != models.MaxQueueEntryRetries {
		t.Errorf("retry count = %d, want %d", e.RetryCount, models.MaxQueueEntryRetries)
	}
	if client.count() != 0 {
		t.Errorf("provider called %d times without balance", client.count())
	}

	// The failed entry stays out of later passes.
	if err := consumer.Dispatch(context.Background(), drainJob()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if e, _ := mem.Entry("q1"); e.RetryCount != models.MaxQueueEntryRetries {
		t.Errorf("failed entry still being retried: %+v", e)
	}
}

func TestDailyReportRerunChargesOnce(t *testing.T) {
	mem := store.NewMemory()
	seedTenantStudent(mem, 1000)
	consumer, client := realConsumer(t, mem)

	out := testDay.Add(13 * time.Hour)
	err := mem.CreateSession(context.Background(), models.PresenceSession{
		ID: "s1", TenantID: "t1", StudentID: "st1", Date: "2026-03-04",
		CheckInAt: testDay.Add(9 * time.Hour), CheckOutAt: &out,
		DurationMinutes: 240, Status: models.SessionCompleted,
	})
	if err != nil {
		t.Fatalf("seed session: %v", err)
	}

	tenant, _ := mem.GetTenant(context.Background(), "t1")
	job := pipeline.NewJobMessage(pipeline.JobDailyReport, tenant, clock.TickAt(testDay.Add(22*time.Hour)))

	for i := 0; i < 2; i++ {
		if err := consumer.Dispatch(context.Background(), &job); err != nil {
			t.Fatalf("dispatch %d: %v", i, err)
		}
	}

	if client.count() != 1 {
		t.Errorf("provider sends = %d, want re-run suppressed", client.count())
	}
	if n := len(mem.Messages()); n != 1 {
		t.Errorf("message logs = %d, want 1", n)
	}
	b, _ := mem.GetBalance(context.Background(), "t1")
	if b.Total() != 988 {
		t.Errorf("balance = %d, want exactly one debit", b.Total())
	}
}

func TestHandleDropsMalformedPayload(t *testing.T) {
	mem := store.NewMemory()
	consumer, _ := realConsumer(t, mem)

	msg := message.NewMessage("bad", []byte(`{"type":"no_such_job"}`))
	if err := consumer.Handle(msg); err != nil {
		t.Fatalf("malformed payload must ack, got %v", err)
	}
}

func TestHandleRedeliversTransientFailures(t *testing.T) {
	mem := store.NewMemory()
	consumer, _ := realConsumer(t, mem)

	// The job references a tenant the store cannot load.
	job := pipeline.JobMessage{
		Type: pipeline.JobDailyReport, TenantID: "ghost", TenantName: "Ghost",
		TenantType: models.TenantAcademy, Weekday: "wednesday", Date: "2026-03-04",
		MinutesSinceMidnight: 1320, EnqueuedAtEpochMs: testDay.Add(22 * time.Hour).UnixMilli(),
	}
	payload, err := pipeline.NewSerializer().Marshal(&job)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := consumer.Handle(message.NewMessage(job.Key(), payload)); err == nil {
		t.Fatal("store failure must propagate for redelivery")
	}
}
