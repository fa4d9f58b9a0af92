// Rollcall - Academy Attendance Notification Pipeline
// Copyright 2026 GoldPen Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/goldpen/rollcall

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/goldpen/rollcall/internal/models"
	"github.com/goldpen/rollcall/internal/pipeline"
)

// CheckAndDeduct spends amount from the tenant balance inside one
// transaction. The tenant row lock serializes concurrent sends for the
// same tenant, so the balance can never go negative. Free credit is
// consumed before paid credit; the spend either happens in full or not
// at all.
func (p *Postgres) CheckAndDeduct(ctx context.Context, tenantID string, amount int64, description string, actor models.Actor) (Deduction, error) {
	if amount < 0 {
		return Deduction{}, fmt.Errorf("deduct amount %d is negative", amount)
	}

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Deduction{}, fmt.Errorf("begin deduct tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var free, paid int64
	err = tx.QueryRow(ctx,
		`SELECT credit_free, credit_paid FROM tenants WHERE id = $1 FOR UPDATE`, tenantID).
		Scan(&free, &paid)
	if errors.Is(err, pgx.ErrNoRows) {
		return Deduction{}, fmt.Errorf("tenant %s: %w", tenantID, ErrNotFound)
	}
	if err != nil {
		return Deduction{}, fmt.Errorf("lock tenant balance: %w", err)
	}

	if free+paid < amount {
		return Deduction{}, fmt.Errorf("tenant %s needs %d, has %d: %w",
			tenantID, amount, free+paid, pipeline.ErrInsufficientBalance)
	}

	freeUsed := amount
	if freeUsed > free {
		freeUsed = free
	}
	paidUsed := amount - freeUsed

	newFree := free - freeUsed
	newPaid := paid - paidUsed

	if _, err := tx.Exec(ctx,
		`UPDATE tenants SET credit_free = $2, credit_paid = $3 WHERE id = $1`,
		tenantID, newFree, newPaid); err != nil {
		return Deduction{}, fmt.Errorf("update balance: %w", err)
	}

	now := time.Now()
	if freeUsed > 0 {
		if err := appendLedgerTx(ctx, tx, tenantID, -freeUsed, models.CreditFree, newFree+newPaid, description, actor, now); err != nil {
			return Deduction{}, err
		}
	}
	if paidUsed > 0 {
		if err := appendLedgerTx(ctx, tx, tenantID, -paidUsed, models.CreditPaid, newFree+newPaid, description, actor, now); err != nil {
			return Deduction{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Deduction{}, fmt.Errorf("commit deduct: %w", err)
	}

	return Deduction{
		FreeUsed: freeUsed,
		PaidUsed: paidUsed,
		Balance:  models.Balance{Free: newFree, Paid: newPaid},
	}, nil
}

// Credit tops up the tenant balance in the given category.
func (p *Postgres) Credit(ctx context.Context, tenantID string, amount int64, category models.CreditCategory, description string, actor models.Actor) error {
	if amount <= 0 {
		return fmt.Errorf("credit amount %d must be positive", amount)
	}

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin credit tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	column := "credit_free"
	if category == models.CreditPaid {
		column = "credit_paid"
	}

	var free, paid int64
	err = tx.QueryRow(ctx,
		`UPDATE tenants SET `+column+` = `+column+` + $2
		 WHERE id = $1 RETURNING credit_free, credit_paid`, tenantID, amount).
		Scan(&free, &paid)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("tenant %s: %w", tenantID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("credit balance: %w", err)
	}

	if err := appendLedgerTx(ctx, tx, tenantID, amount, category, free+paid, description, actor, time.Now()); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit credit: %w", err)
	}
	return nil
}

// GetBalance returns the tenant's current credit split.
func (p *Postgres) GetBalance(ctx context.Context, tenantID string) (models.Balance, error) {
	var b models.Balance
	err := p.pool.QueryRow(ctx,
		`SELECT credit_free, credit_paid FROM tenants WHERE id = $1`, tenantID).
		Scan(&b.Free, &b.Paid)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Balance{}, fmt.Errorf("tenant %s: %w", tenantID, ErrNotFound)
	}
	if err != nil {
		return models.Balance{}, fmt.Errorf("get balance: %w", err)
	}
	return b, nil
}

func appendLedgerTx(ctx context.Context, tx pgx.Tx, tenantID string, amount int64, category models.CreditCategory, balanceAfter int64, description string, actor models.Actor, at time.Time) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO credit_transactions (id, tenant_id, amount, category, balance_after, description, actor, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.NewString(), tenantID, amount, category, balanceAfter, description, actor.String(), at)
	if err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}
