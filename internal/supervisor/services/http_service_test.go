// Rollcall - Academy Attendance Notification Pipeline
// Copyright 2026 GoldPen Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/goldpen/rollcall

package services

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

type fakeHTTPServer struct {
	listenErr   error
	shutdownErr error
	shutdowns   int
	release     chan struct{}
}

func newFakeHTTPServer() *fakeHTTPServer {
	return &fakeHTTPServer{release: make(chan struct{})}
}

func (f *fakeHTTPServer) ListenAndServe() error {
	if f.listenErr != nil {
		return f.listenErr
	}
	<-f.release
	return http.ErrServerClosed
}

func (f *fakeHTTPServer) Shutdown(context.Context) error {
	f.shutdowns++
	close(f.release)
	return f.shutdownErr
}

func TestHTTPServiceGracefulShutdown(t *testing.T) {
	server := newFakeHTTPServer()
	svc := NewHTTPService(server, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("serve returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
	if server.shutdowns != 1 {
		t.Errorf("shutdowns = %d", server.shutdowns)
	}
}

func TestHTTPServiceStartupFailure(t *testing.T) {
	server := newFakeHTTPServer()
	server.listenErr = errors.New("port in use")
	svc := NewHTTPService(server, time.Second)

	if err := svc.Serve(context.Background()); err == nil {
		t.Fatal("expected startup failure to propagate")
	}
}

type fakeRunner struct {
	runErr   error
	closed   bool
	closeErr error
}

func (f *fakeRunner) Run(ctx context.Context) error {
	if f.runErr != nil {
		return f.runErr
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeRunner) Close() error {
	f.closed = true
	return f.closeErr
}

func TestRouterServiceClosesOnCancel(t *testing.T) {
	runner := &fakeRunner{}
	svc := NewRouterService(runner)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return")
	}
	if !runner.closed {
		t.Error("router not closed on shutdown")
	}
}

func TestRouterServicePropagatesRunFailure(t *testing.T) {
	runner := &fakeRunner{runErr: errors.New("subscribe failed")}
	svc := NewRouterService(runner)

	if err := svc.Serve(context.Background()); err == nil {
		t.Fatal("expected run failure to propagate")
	}
}
