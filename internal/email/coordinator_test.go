package email

import (
	"context"
	"testing"
	"time"

	"github.com/debasish-raychawdhuri/tuimail-sub000/internal/config"
)

func TestCoordinatorSyncsAccounts(t *testing.T) {
	addr := newTestIMAPServer(t)
	appendTestMail(t, addr, "INBOX", numberedMail(1))
	appendTestMail(t, addr, "INBOX", numberedMail(2))

	engine, store := newTestEngine(t)
	account := testAccount(t, addr)
	cfg := &config.Config{
		SyncInterval: 1,
		Accounts:     []config.Account{*account},
	}

	coord := NewCoordinator(cfg, engine, &fakeCreds{imap: testPassword}, discardLogger())
	coord.Start(context.Background())
	defer coord.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for {
		count, err := store.EmailCount(account.Email, "INBOX")
		if err != nil {
			t.Fatalf("EmailCount() error: %v", err)
		}
		if count == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("sync pass never populated the store, count = %d", count)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestCoordinatorPicksUpNewMail(t *testing.T) {
	addr := newTestIMAPServer(t)
	appendTestMail(t, addr, "INBOX", numberedMail(1))

	engine, store := newTestEngine(t)
	account := testAccount(t, addr)
	cfg := &config.Config{
		SyncInterval: 1,
		Accounts:     []config.Account{*account},
	}

	coord := NewCoordinator(cfg, engine, &fakeCreds{imap: testPassword}, discardLogger())
	coord.Start(context.Background())
	defer coord.Stop()

	waitForCount := func(want int) {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for {
			count, err := store.EmailCount(account.Email, "INBOX")
			if err != nil {
				t.Fatal(err)
			}
			if count == want {
				return
			}
			if time.Now().After(deadline) {
				t.Fatalf("count = %d, want %d", count, want)
			}
			time.Sleep(50 * time.Millisecond)
		}
	}

	waitForCount(1)
	appendTestMail(t, addr, "INBOX", numberedMail(2))
	waitForCount(2)
}

func TestCoordinatorStartStopIdempotent(t *testing.T) {
	engine, _ := newTestEngine(t)
	cfg := &config.Config{SyncInterval: 1}
	coord := NewCoordinator(cfg, engine, &fakeCreds{}, discardLogger())

	coord.Stop() // never started

	coord.Start(context.Background())
	coord.Start(context.Background()) // second start is a no-op

	stopped := make(chan struct{})
	go func() {
		coord.Stop()
		coord.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestCoordinatorDefaultInterval(t *testing.T) {
	engine, _ := newTestEngine(t)
	coord := NewCoordinator(&config.Config{}, engine, &fakeCreds{}, discardLogger())
	if coord.interval != 30*time.Second {
		t.Errorf("interval = %v, want 30s default", coord.interval)
	}

	coord = NewCoordinator(&config.Config{SyncInterval: 5}, engine, &fakeCreds{}, discardLogger())
	if coord.interval != 5*time.Second {
		t.Errorf("interval = %v, want 5s", coord.interval)
	}
}

func TestInboxFolder(t *testing.T) {
	tests := []struct {
		name    string
		folders []string
		want    string
	}{
		{"exact", []string{"Sent", "INBOX"}, "INBOX"},
		{"case insensitive", []string{"Inbox"}, "Inbox"},
		{"missing", []string{"Sent", "Archive"}, "INBOX"},
		{"empty", nil, "INBOX"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := inboxFolder(tt.folders); got != tt.want {
				t.Errorf("inboxFolder(%v) = %q, want %q", tt.folders, got, tt.want)
			}
		})
	}
}
