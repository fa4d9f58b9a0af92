// Rollcall - Academy Attendance Notification Pipeline
// Copyright 2026 GoldPen Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/goldpen/rollcall

package producer

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/goldpen/rollcall/internal/clock"
	"github.com/goldpen/rollcall/internal/config"
	"github.com/goldpen/rollcall/internal/logging"
	"github.com/goldpen/rollcall/internal/models"
	"github.com/goldpen/rollcall/internal/pipeline"
	"github.com/goldpen/rollcall/internal/store"
)

type fakePublisher struct {
	batches  [][]*message.Message
	failFrom int
	calls    int
}

func (f *fakePublisher) PublishBatch(_ context.Context, _ string, msgs ...*message.Message) error {
	f.calls++
	if f.failFrom > 0 && f.calls >= f.failFrom {
		return errors.New("broker down")
	}
	f.batches = append(f.batches, msgs)
	return nil
}

func (f *fakePublisher) jobs(t *testing.T) map[pipeline.JobType][]pipeline.JobMessage {
	t.Helper()
	out := map[pipeline.JobType][]pipeline.JobMessage{}
	ser := pipeline.NewSerializer()
	for _, batch := range f.batches {
		for _, msg := range batch {
			job, err := ser.Unmarshal(msg.Payload)
			if err != nil {
				t.Fatalf("decode published job: %v", err)
			}
			out[job.Type] = append(out[job.Type], *job)
		}
	}
	return out
}

func tenant(id string, typ models.TenantType) models.Tenant {
	return models.Tenant{
		ID: id, Name: "Tenant " + id, Type: typ, Active: true,
		Settings: models.DefaultTenantSettings(),
	}
}

func newProducer(mem *store.Memory, pub Publisher, at time.Time) *Producer {
	cfg := config.ProducerConfig{Enabled: true, BatchSize: 100, CommuteFinalizeTime: "23:50", AssignmentRemindTime: "18:00"}
	return New(mem, pub, clock.Fixed{T: at}, cfg, "jobs", logging.NewTestLogger(io.Discard))
}

func TestRunTickFansOutByTenantType(t *testing.T) {
	mem := store.NewMemory()
	mem.AddTenant(tenant("aca", models.TenantAcademy), models.Balance{})
	mem.AddTenant(tenant("stu", models.TenantStudyRoom), models.Balance{})
	mem.AddTenant(tenant("hyb", models.TenantHybrid), models.Balance{})

	pub := &fakePublisher{}
	at := time.Date(2026, 3, 4, 9, 5, 0, 0, time.UTC)
	p := newProducer(mem, pub, at)

	if err := p.RunTick(context.Background(), clock.TickAt(at)); err != nil {
		t.Fatalf("tick: %v", err)
	}

	jobs := pub.jobs(t)
	if n := len(jobs[pipeline.JobCheckClass]); n != 3 {
		t.Errorf("check_class = %d, want every tenant", n)
	}
	if n := len(jobs[pipeline.JobCheckCommute]); n != 3 {
		t.Errorf("check_commute = %d, want every tenant", n)
	}
	if n := len(jobs[pipeline.JobCheckAcademy]); n != 2 {
		t.Errorf("check_academy = %d, want academy and hybrid", n)
	}
	if n := len(jobs[pipeline.JobCheckStudy]); n != 2 {
		t.Errorf("check_study = %d, want study room and hybrid", n)
	}
	if n := len(jobs[pipeline.JobDailyReport]); n != 0 {
		t.Errorf("daily_report = %d at 09:05, want none", n)
	}
	drains := jobs[pipeline.JobProcessNotificationQueue]
	if len(drains) != 1 {
		t.Fatalf("drain jobs = %d, want exactly one per tick", len(drains))
	}
	if drains[0].TenantID != "" {
		t.Errorf("drain job tenant = %q, want system-wide", drains[0].TenantID)
	}
}

func TestRunTickDailyReportAtConfiguredMinute(t *testing.T) {
	mem := store.NewMemory()
	early := tenant("early", models.TenantAcademy)
	early.Settings.DailyReportTime = "21:30"
	mem.AddTenant(early, models.Balance{})
	mem.AddTenant(tenant("dflt", models.TenantAcademy), models.Balance{})

	pub := &fakePublisher{}
	at := time.Date(2026, 3, 4, 21, 30, 0, 0, time.UTC)
	p := newProducer(mem, pub, at)

	if err := p.RunTick(context.Background(), clock.TickAt(at)); err != nil {
		t.Fatalf("tick: %v", err)
	}

	reports := pub.jobs(t)[pipeline.JobDailyReport]
	if len(reports) != 1 || reports[0].TenantID != "early" {
		t.Errorf("daily_report jobs = %+v, want only the 21:30 tenant", reports)
	}
}

func TestRunTickCommuteFinalizeForStudyTenants(t *testing.T) {
	mem := store.NewMemory()
	mem.AddTenant(tenant("aca", models.TenantAcademy), models.Balance{})
	mem.AddTenant(tenant("stu", models.TenantStudyRoom), models.Balance{})

	pub := &fakePublisher{}
	at := time.Date(2026, 3, 4, 23, 50, 0, 0, time.UTC)
	p := newProducer(mem, pub, at)

	if err := p.RunTick(context.Background(), clock.TickAt(at)); err != nil {
		t.Fatalf("tick: %v", err)
	}

	finals := pub.jobs(t)[pipeline.JobProcessCommuteAbsent]
	if len(finals) != 1 || finals[0].TenantID != "stu" {
		t.Errorf("process_commute_absent = %+v, want study tenant only", finals)
	}
}

func TestRunTickAssignmentRemindForAcademyTenants(t *testing.T) {
	mem := store.NewMemory()
	mem.AddTenant(tenant("aca", models.TenantAcademy), models.Balance{})
	mem.AddTenant(tenant("hyb", models.TenantHybrid), models.Balance{})
	mem.AddTenant(tenant("stu", models.TenantStudyRoom), models.Balance{})

	pub := &fakePublisher{}
	at := time.Date(2026, 3, 4, 18, 0, 0, 0, time.UTC)
	p := newProducer(mem, pub, at)

	if err := p.RunTick(context.Background(), clock.TickAt(at)); err != nil {
		t.Fatalf("tick: %v", err)
	}

	reminds := pub.jobs(t)[pipeline.JobAssignmentRemind]
	if len(reminds) != 2 {
		t.Fatalf("assignment_remind = %d, want academy and hybrid", len(reminds))
	}
	got := map[string]bool{}
	for _, j := range reminds {
		got[j.TenantID] = true
	}
	if !got["aca"] || !got["hyb"] {
		t.Errorf("assignment_remind tenants = %v, want aca and hyb", got)
	}

	off := &fakePublisher{}
	later := time.Date(2026, 3, 4, 18, 1, 0, 0, time.UTC)
	if err := newProducer(mem, off, later).RunTick(context.Background(), clock.TickAt(later)); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if n := len(off.jobs(t)[pipeline.JobAssignmentRemind]); n != 0 {
		t.Errorf("assignment_remind = %d at 18:01, want none", n)
	}
}

func TestRunTickChunksBatches(t *testing.T) {
	mem := store.NewMemory()
	for i := 0; i < 5; i++ {
		mem.AddTenant(tenant(string(rune('a'+i)), models.TenantAcademy), models.Balance{})
	}

	pub := &fakePublisher{}
	at := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	cfg := config.ProducerConfig{Enabled: true, BatchSize: 4, CommuteFinalizeTime: "23:50", AssignmentRemindTime: "18:00"}
	p := New(mem, pub, clock.Fixed{T: at}, cfg, "jobs", logging.NewTestLogger(io.Discard))

	if err := p.RunTick(context.Background(), clock.TickAt(at)); err != nil {
		t.Fatalf("tick: %v", err)
	}

	// 5 tenants x 3 jobs + 1 drain = 16 messages in chunks of 4.
	if len(pub.batches) != 4 {
		t.Errorf("batches = %d, want 4", len(pub.batches))
	}
	for i, b := range pub.batches {
		if len(b) > 4 {
			t.Errorf("batch %d size = %d, exceeds chunk", i, len(b))
		}
	}
}

func TestRunTickContinuesPastFailedChunk(t *testing.T) {
	mem := store.NewMemory()
	for i := 0; i < 5; i++ {
		mem.AddTenant(tenant(string(rune('a'+i)), models.TenantAcademy), models.Balance{})
	}

	pub := &fakePublisher{failFrom: 2}
	at := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	cfg := config.ProducerConfig{Enabled: true, BatchSize: 4, CommuteFinalizeTime: "23:50", AssignmentRemindTime: "18:00"}
	p := New(mem, pub, clock.Fixed{T: at}, cfg, "jobs", logging.NewTestLogger(io.Discard))

	if err := p.RunTick(context.Background(), clock.TickAt(at)); err != nil {
		t.Fatalf("a failed chunk must not fail the tick: %v", err)
	}
	if pub.calls != 4 {
		t.Errorf("publish calls = %d, want all chunks attempted", pub.calls)
	}
}

func TestRunTickDeterministicMessageIDs(t *testing.T) {
	mem := store.NewMemory()
	mem.AddTenant(tenant("t1", models.TenantAcademy), models.Balance{})

	at := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	first := &fakePublisher{}
	if err := newProducer(mem, first, at).RunTick(context.Background(), clock.TickAt(at)); err != nil {
		t.Fatalf("tick: %v", err)
	}
	second := &fakePublisher{}
	if err := newProducer(mem, second, at).RunTick(context.Background(), clock.TickAt(at)); err != nil {
		t.Fatalf("tick: %v", err)
	}

	ids := func(p *fakePublisher) []string {
		var out []string
		for _, b := range p.batches {
			for _, m := range b {
				out = append(out, m.UUID)
			}
		}
		return out
	}
	a, b := ids(first), ids(second)
	if len(a) != len(b) {
		t.Fatalf("message counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("message %d id %q != %q, broker dedup needs stable ids", i, a[i], b[i])
		}
	}
}
