// Rollcall - Academy Attendance Notification Pipeline
// Copyright 2026 GoldPen Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/goldpen/rollcall

package notify

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goldpen/rollcall/internal/cache"
	"github.com/goldpen/rollcall/internal/gateway"
	"github.com/goldpen/rollcall/internal/logging"
	"github.com/goldpen/rollcall/internal/models"
	"github.com/goldpen/rollcall/internal/pipeline"
	"github.com/goldpen/rollcall/internal/store"
)

type fakeClient struct {
	mu     sync.Mutex
	sends  []gateway.SendRequest
	result gateway.SendResult
	err    error
}

func (f *fakeClient) Send(_ context.Context, req gateway.SendRequest) (gateway.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, req)
	return f.result, f.err
}

func (f *fakeClient) Configured() bool { return true }

func (f *fakeClient) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

type fakeMonitor struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeMonitor) Notify(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeMonitor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.texts)
}

type fixture struct {
	notifier *Notifier
	mem      *store.Memory
	client   *fakeClient
	monitor  *fakeMonitor
	tenant   models.Tenant
	student  models.Student
}

func newFixture(t *testing.T, free, paid int64) *fixture {
	t.Helper()
	mem := store.NewMemory()
	tenant := models.Tenant{
		ID: "t1", Name: "Alpha Academy", Type: models.TenantAcademy, Active: true,
		Settings: models.DefaultTenantSettings(),
	}
	student := models.Student{
		ID: "st1", TenantID: "t1", Name: "Kim", GuardianPhone: "01012345678", Active: true,
	}
	mem.AddTenant(tenant, models.Balance{Free: free, Paid: paid})
	mem.AddStudent(student)

	c := cache.New(time.Minute)
	t.Cleanup(c.Close)
	resolver := gateway.NewResolver(mem, c, time.Minute)

	client := &fakeClient{result: gateway.SendResult{Delivered: true, ProviderID: "M1"}}
	monitor := &fakeMonitor{}
	n := New(mem, client, monitor, resolver, 12, logging.NewTestLogger(io.Discard))

	return &fixture{notifier: n, mem: mem, client: client, monitor: monitor, tenant: tenant, student: student}
}

func (f *fixture) notification(kind models.NotificationKind) Notification {
	return Notification{
		Tenant:     f.tenant,
		Student:    f.student,
		Kind:       kind,
		Date:       "2026-03-04",
		OccurredAt: time.Date(2026, 3, 4, 9, 5, 0, 0, time.UTC),
	}
}

func TestSendHappyPath(t *testing.T) {
	f := newFixture(t, 100, 0)

	sent, err := f.notifier.Send(context.Background(), models.SystemActor(), f.notification(models.KindLate))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !sent {
		t.Fatal("expected delivered")
	}

	if f.client.count() != 1 {
		t.Errorf("provider sends = %d", f.client.count())
	}
	if f.monitor.count() != 1 {
		t.Errorf("monitor notifies = %d", f.monitor.count())
	}

	msgs := f.mem.Messages()
	if len(msgs) != 1 || msgs[0].Status != models.MessageSent || msgs[0].ProviderID != "M1" {
		t.Errorf("message logs = %+v", msgs)
	}
	if msgs[0].Cost != 12 {
		t.Errorf("cost = %d", msgs[0].Cost)
	}

	b, _ := f.mem.GetBalance(context.Background(), "t1")
	if b.Total() != 88 {
		t.Errorf("balance = %d, want 88", b.Total())
	}
}

func TestSendDedupsScheduledKinds(t *testing.T) {
	f := newFixture(t, 100, 0)
	ctx := context.Background()

	sent, err := f.notifier.Send(ctx, models.SystemActor(), f.notification(models.KindDailyReport))
	if err != nil || !sent {
		t.Fatalf("first send: sent=%v err=%v", sent, err)
	}

	// A re-run of the same job must not send or charge again.
	sent, err = f.notifier.Send(ctx, models.SystemActor(), f.notification(models.KindDailyReport))
	if err != nil {
		t.Fatalf("second send: %v", err)
	}
	if sent {
		t.Fatal("second send should be suppressed")
	}

	if n := f.client.count(); n != 1 {
		t.Errorf("provider sends = %d, want 1", n)
	}
	if n := len(f.mem.Messages()); n != 1 {
		t.Errorf("message logs = %d, want 1", n)
	}
	b, _ := f.mem.GetBalance(context.Background(), "t1")
	if b.Total() != 88 {
		t.Errorf("balance = %d, want one charge only", b.Total())
	}
}

func TestSendInstantKindsSkipDedup(t *testing.T) {
	f := newFixture(t, 100, 0)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		sent, err := f.notifier.Send(ctx, models.SystemActor(), f.notification(models.KindOuting))
		if err != nil || !sent {
			t.Fatalf("send %d: sent=%v err=%v", i, sent, err)
		}
	}
	if n := f.client.count(); n != 2 {
		t.Errorf("provider sends = %d, want 2 (two outings in one day)", n)
	}
}

func TestSendInsufficientBalance(t *testing.T) {
	f := newFixture(t, 0, 5)

	sent, err := f.notifier.Send(context.Background(), models.SystemActor(), f.notification(models.KindLate))
	if err != nil {
		t.Fatalf("insufficient balance must not be an error: %v", err)
	}
	if sent {
		t.Fatal("expected send blocked")
	}

	if f.client.count() != 0 {
		t.Error("provider must not be called without balance")
	}
	if f.monitor.count() != 1 {
		t.Error("monitor must fire even without balance")
	}
	msgs := f.mem.Messages()
	if len(msgs) != 1 || msgs[0].Status != models.MessageFailed {
		t.Fatalf("message logs = %+v, want one failed row", msgs)
	}
	if !strings.Contains(msgs[0].FailReason, "insufficient balance") {
		t.Errorf("fail reason = %q", msgs[0].FailReason)
	}
	b, _ := f.mem.GetBalance(context.Background(), "t1")
	if b.Total() != 5 {
		t.Errorf("balance changed on refused send: %d", b.Total())
	}
}

func TestSendProviderRejection(t *testing.T) {
	f := newFixture(t, 100, 0)
	f.client.result = gateway.SendResult{Delivered: false, ErrorCode: "4001"}

	sent, err := f.notifier.Send(context.Background(), models.SystemActor(), f.notification(models.KindAbsent))
	if err != nil {
		t.Fatalf("rejection should be in-band: %v", err)
	}
	if sent {
		t.Fatal("expected not delivered")
	}

	msgs := f.mem.Messages()
	if len(msgs) != 1 || msgs[0].Status != models.MessageFailed {
		t.Fatalf("message logs = %+v", msgs)
	}
	// Charge on attempt: the rejected send still cost credit.
	b, _ := f.mem.GetBalance(context.Background(), "t1")
	if b.Total() != 88 {
		t.Errorf("balance = %d, want charged attempt", b.Total())
	}
}

func TestSendTransportErrorPropagates(t *testing.T) {
	f := newFixture(t, 100, 0)
	f.client.err = pipeline.Transientf("provider unreachable")

	sent, err := f.notifier.Send(context.Background(), models.SystemActor(), f.notification(models.KindCheckIn))
	if sent {
		t.Fatal("expected not delivered")
	}
	if !pipeline.IsTransient(err) {
		t.Fatalf("err = %v, want transient", err)
	}
	msgs := f.mem.Messages()
	if len(msgs) != 1 || msgs[0].Status != models.MessageFailed {
		t.Errorf("message logs = %+v, want failed row recorded", msgs)
	}
}

func TestMonitorFiresWithoutBalanceGate(t *testing.T) {
	f := newFixture(t, 100, 0)

	if _, err := f.notifier.Send(context.Background(), models.SystemActor(), f.notification(models.KindLate)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if f.monitor.count() != 1 {
		t.Fatalf("monitor notifies = %d", f.monitor.count())
	}
	f.monitor.mu.Lock()
	text := f.monitor.texts[0]
	f.monitor.mu.Unlock()
	if !strings.Contains(text, "Alpha Academy") || !strings.Contains(text, "Kim") {
		t.Errorf("monitor text = %q", text)
	}
}
