// Rollcall - Academy Attendance Notification Pipeline
// Copyright 2026 GoldPen Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/goldpen/rollcall

package gateway

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/goldpen/rollcall/internal/cache"
	"github.com/goldpen/rollcall/internal/models"
	"github.com/goldpen/rollcall/internal/store"
)

// defaultTemplates are the built-in message bodies used when a tenant
// has no override for the kind. Variables use {{name}} syntax.
var defaultTemplates = map[models.NotificationKind]string{
	models.KindCheckIn:     "[{{tenantName}}] {{studentName}} 학생이 {{time}}에 등원했습니다.",
	models.KindCheckOut:    "[{{tenantName}}] {{studentName}} 학생이 {{time}}에 하원했습니다.",
	models.KindOuting:      "[{{tenantName}}] {{studentName}} 학생이 {{time}}에 외출했습니다. ({{reason}})",
	models.KindReturn:      "[{{tenantName}}] {{studentName}} 학생이 {{time}}에 복귀했습니다.",
	models.KindLate:        "[{{tenantName}}] {{studentName}} 학생이 아직 등원하지 않았습니다. (예정 {{expectedTime}})",
	models.KindAbsent:      "[{{tenantName}}] {{studentName}} 학생이 오늘 결석 처리되었습니다.",
	models.KindDailyReport: "[{{tenantName}}] {{studentName}} 학생의 {{date}} 학습 리포트: 총 {{totalTime}} 학습, 완료한 과목 {{subjectCount}}개입니다.",
	models.KindAssignment:  "[{{tenantName}}] {{studentName}} 학생의 과제 마감이 다가왔습니다. 과제: {{assignmentTitle}} (마감 {{dueDate}})",
}

var variablePattern = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Fill substitutes {{name}} variables in a template. Unknown variables
// are left in place so broken tenant templates are visible in the
// delivered text instead of silently vanishing.
func Fill(template string, vars map[string]string) string {
	return variablePattern.ReplaceAllStringFunc(template, func(match string) string {
		name := match[2 : len(match)-2]
		if v, ok := vars[name]; ok {
			return v
		}
		return match
	})
}

// FormatDuration renders a minute count for report templates.
func FormatDuration(minutes int) string {
	if minutes < 60 {
		return fmt.Sprintf("%d분", minutes)
	}
	if minutes%60 == 0 {
		return fmt.Sprintf("%d시간", minutes/60)
	}
	return fmt.Sprintf("%d시간 %d분", minutes/60, minutes%60)
}

// Resolver resolves the message template for a tenant and kind:
// tenant override first, built-in default second. Resolved templates
// are cached with a TTL, so a tenant's template edit converges within
// one cache window. The cache is injected, not package state.
type Resolver struct {
	tenants store.TenantStore
	cache   *cache.Cache
	ttl     time.Duration
}

// NewResolver creates a template resolver on the given cache.
func NewResolver(tenants store.TenantStore, c *cache.Cache, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Resolver{tenants: tenants, cache: c, ttl: ttl}
}

type templateKeyParams struct {
	TenantID string
	Kind     models.NotificationKind
}

// Resolve returns the template text for a tenant and kind.
func (r *Resolver) Resolve(ctx context.Context, tenantID string, kind models.NotificationKind) (string, error) {
	key := cache.Key("template", templateKeyParams{TenantID: tenantID, Kind: kind})
	if cached, ok := r.cache.Get(key); ok {
		return cached.(string), nil
	}

	tenant, err := r.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("resolve template: %w", err)
	}

	tpl := tenant.Settings.Template(kind)
	if tpl == "" {
		tpl = defaultTemplates[kind]
	}
	if tpl == "" {
		return "", fmt.Errorf("no template for kind %q", kind)
	}

	r.cache.SetWithTTL(key, tpl, r.ttl)
	return tpl, nil
}
