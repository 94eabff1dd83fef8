package email

import (
	"context"
	"testing"
	"time"
)

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{11, 55 * time.Second},
		{12, 60 * time.Second},
		{20, 60 * time.Second},
	}

	for _, tt := range tests {
		if got := backoffDelay(tt.attempt); got != tt.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestWatcherStartConnectFailure(t *testing.T) {
	engine, _ := newTestEngine(t)
	account := testAccount(t, deadAddr(t))

	w := NewWatcher(engine, account, testPassword, "INBOX", discardLogger())
	if err := w.Start(context.Background()); err == nil {
		t.Fatal("expected connect failure, got nil")
	}
}

func TestWatcherDeliversNewMail(t *testing.T) {
	addr := newTestIMAPServer(t)
	engine, store := newTestEngine(t)
	account := testAccount(t, addr)

	w := NewWatcher(engine, account, testPassword, "INBOX", discardLogger())
	w.idleTimeout = 250 * time.Millisecond
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer w.Stop()

	appendTestMail(t, addr, "INBOX", numberedMail(1))

	deadline := time.Now().Add(5 * time.Second)
	for {
		count, err := store.EmailCount(account.Email, "INBOX")
		if err != nil {
			t.Fatalf("EmailCount() error: %v", err)
		}
		if count == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("message never reached the store, count = %d", count)
		}
		time.Sleep(50 * time.Millisecond)
	}

	emails, err := store.LoadEmails(account.Email, "INBOX")
	if err != nil {
		t.Fatal(err)
	}
	if emails[0].Subject != "Message 1" {
		t.Errorf("Subject = %q, want Message 1", emails[0].Subject)
	}
}

func TestWatcherStopReturnsPromptly(t *testing.T) {
	addr := newTestIMAPServer(t)
	engine, _ := newTestEngine(t)
	account := testAccount(t, addr)

	w := NewWatcher(engine, account, testPassword, "INBOX", discardLogger())
	w.idleTimeout = 10 * time.Second
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not interrupt the idle wait")
	}
	if err := w.Err(); err != nil {
		t.Errorf("Err() = %v, want nil after Stop", err)
	}
}

func TestWatcherStopDuringReconnect(t *testing.T) {
	addr, srv := startTestIMAPServer(t)
	engine, _ := newTestEngine(t)
	account := testAccount(t, addr)

	w := NewWatcher(engine, account, testPassword, "INBOX", discardLogger())
	w.idleTimeout = 10 * time.Second
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	// Drop the server; the watcher lands in its reconnect backoff wait
	srv.Close()
	time.Sleep(200 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not interrupt the reconnect wait")
	}
	if err := w.Err(); err != nil {
		t.Errorf("Err() = %v, want nil after Stop", err)
	}
}
