package email

import (
	"strings"
	"testing"
	"time"

	"github.com/debasish-raychawdhuri/tuimail-sub000/internal/config"
	"github.com/debasish-raychawdhuri/tuimail-sub000/pkg/types"
)

func newTestClient(t *testing.T, addr string) (*EmailClient, *config.Account) {
	t.Helper()

	account := testAccount(t, addr)
	cfg := &config.Config{
		SyncInterval: 1,
		Accounts:     []config.Account{*account},
	}
	client := NewClient(cfg, newTestStore(t), &fakeCreds{imap: testPassword, smtp: testPassword}, discardLogger())
	t.Cleanup(func() { client.Close() })
	return client, account
}

func TestClientSyncAndLoadCached(t *testing.T) {
	addr := newTestIMAPServer(t)
	appendTestMail(t, addr, "INBOX", testMailPlain)
	client, account := newTestClient(t, addr)

	emails, err := client.SyncFolder(account.Name, "INBOX")
	if err != nil {
		t.Fatalf("SyncFolder() error: %v", err)
	}
	if len(emails) != 1 {
		t.Fatalf("expected 1 email, got %d", len(emails))
	}
	if emails[0].Subject != "Quarterly report" {
		t.Errorf("Subject = %q", emails[0].Subject)
	}

	cached, err := client.LoadCached(account.Name, "INBOX")
	if err != nil {
		t.Fatalf("LoadCached() error: %v", err)
	}
	if len(cached) != 1 || cached[0].Subject != "Quarterly report" {
		t.Errorf("cached = %v", cached)
	}
}

func TestClientUnknownAccount(t *testing.T) {
	addr := newTestIMAPServer(t)
	client, _ := newTestClient(t, addr)

	_, err := client.SyncFolder("missing", "INBOX")
	if err == nil {
		t.Fatal("expected error for unknown account")
	}
	if !strings.Contains(err.Error(), "account not found") {
		t.Errorf("error = %v", err)
	}
}

func TestClientListFolders(t *testing.T) {
	addr := newTestIMAPServer(t)
	client, account := newTestClient(t, addr)

	folders, err := client.ListFolders(account.Name)
	if err != nil {
		t.Fatalf("ListFolders() error: %v", err)
	}

	found := false
	for _, f := range folders {
		if f == "INBOX" {
			found = true
		}
	}
	if !found {
		t.Errorf("INBOX missing from %v", folders)
	}
}

func TestClientMarkSeenAndUnseen(t *testing.T) {
	addr := newTestIMAPServer(t)
	appendTestMail(t, addr, "INBOX", testMailPlain)
	client, account := newTestClient(t, addr)

	emails, err := client.SyncFolder(account.Name, "INBOX")
	if err != nil {
		t.Fatal(err)
	}
	uid := emails[0].UID
	if emails[0].Seen {
		t.Fatal("freshly appended message already seen")
	}

	if err := client.MarkSeen(account.Name, "INBOX", uid); err != nil {
		t.Fatalf("MarkSeen() error: %v", err)
	}

	cached, err := client.LoadCached(account.Name, "INBOX")
	if err != nil {
		t.Fatal(err)
	}
	if !cached[0].Seen {
		t.Error("cache not marked seen")
	}

	// The flag must be on the server too, visible to a fresh session
	sess := connectTestSession(t, addr)
	if _, err := sess.Select("INBOX"); err != nil {
		t.Fatal(err)
	}
	raws, err := sess.Fetch(1, 1)
	if err != nil {
		t.Fatal(err)
	}
	seen := false
	for _, f := range raws[0].Flags {
		if f == flagSeen {
			seen = true
		}
	}
	if !seen {
		t.Errorf("server flags = %v, want \\Seen", raws[0].Flags)
	}

	if err := client.MarkUnseen(account.Name, "INBOX", uid); err != nil {
		t.Fatalf("MarkUnseen() error: %v", err)
	}
	cached, err = client.LoadCached(account.Name, "INBOX")
	if err != nil {
		t.Fatal(err)
	}
	if cached[0].Seen {
		t.Error("cache still seen after MarkUnseen")
	}
}

func TestClientDeleteEmail(t *testing.T) {
	addr := newTestIMAPServer(t)
	appendTestMail(t, addr, "INBOX", numberedMail(1))
	appendTestMail(t, addr, "INBOX", numberedMail(2))
	client, account := newTestClient(t, addr)

	emails, err := client.SyncFolder(account.Name, "INBOX")
	if err != nil {
		t.Fatal(err)
	}
	if len(emails) != 2 {
		t.Fatalf("expected 2 emails, got %d", len(emails))
	}

	if err := client.DeleteEmail(account.Name, "INBOX", emails[0].UID); err != nil {
		t.Fatalf("DeleteEmail() error: %v", err)
	}

	cached, err := client.LoadCached(account.Name, "INBOX")
	if err != nil {
		t.Fatal(err)
	}
	if len(cached) != 1 {
		t.Errorf("cached count = %d, want 1", len(cached))
	}

	sess := connectTestSession(t, addr)
	if _, err := sess.Select("INBOX"); err != nil {
		t.Fatal(err)
	}
	seqNums, err := sess.SearchAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(seqNums) != 1 {
		t.Errorf("server count = %d, want 1", len(seqNums))
	}
}

func TestClientMoveEmail(t *testing.T) {
	addr := newTestIMAPServer(t)
	appendTestMail(t, addr, "INBOX", testMailPlain)
	client, account := newTestClient(t, addr)

	emails, err := client.SyncFolder(account.Name, "INBOX")
	if err != nil {
		t.Fatal(err)
	}

	if err := client.MoveEmail(account.Name, "INBOX", emails[0].UID, "Archive"); err != nil {
		t.Fatalf("MoveEmail() error: %v", err)
	}

	cached, err := client.LoadCached(account.Name, "INBOX")
	if err != nil {
		t.Fatal(err)
	}
	if len(cached) != 0 {
		t.Errorf("cached INBOX count = %d, want 0", len(cached))
	}

	sess := connectTestSession(t, addr)
	data, err := sess.Select("Archive")
	if err != nil {
		t.Fatal(err)
	}
	if data.NumMessages != 1 {
		t.Errorf("Archive has %d messages, want 1", data.NumMessages)
	}
}

func TestClientIsStale(t *testing.T) {
	addr := newTestIMAPServer(t)
	client, account := newTestClient(t, addr)

	stale, err := client.IsStale(account.Name, "INBOX", time.Minute)
	if err != nil {
		t.Fatalf("IsStale() error: %v", err)
	}
	if !stale {
		t.Error("never-synced folder should be stale")
	}

	if _, err := client.SyncFolder(account.Name, "INBOX"); err != nil {
		t.Fatal(err)
	}

	stale, err = client.IsStale(account.Name, "INBOX", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if stale {
		t.Error("just-synced folder should not be stale")
	}
}

func TestClientSearchCached(t *testing.T) {
	addr := newTestIMAPServer(t)
	appendTestMail(t, addr, "INBOX", testMailPlain)
	client, account := newTestClient(t, addr)

	if _, err := client.SyncFolder(account.Name, "INBOX"); err != nil {
		t.Fatal(err)
	}

	hits, err := client.SearchCached(account.Name, "Quarterly", 10)
	if err != nil {
		t.Fatalf("SearchCached() error: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("expected 1 hit, got %d", len(hits))
	}

	none, err := client.SearchCached(account.Name, "zebra", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("expected no hits, got %d", len(none))
	}
}

func TestClientSend(t *testing.T) {
	be, smtpAddr := newTestSMTPServer(t)
	client, account := newTestClient(t, smtpAddr)

	msg := &types.OutgoingMessage{
		To:       []string{"rcpt@example.com"},
		Subject:  "From the facade",
		BodyText: "hello",
	}
	if err := client.Send(account.Name, msg); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	msgs := be.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if !strings.Contains(string(msgs[0].Data), "From the facade") {
		t.Error("subject missing from sent data")
	}
}

func TestClientWatcherLifecycle(t *testing.T) {
	addr := newTestIMAPServer(t)
	client, account := newTestClient(t, addr)

	if err := client.StartIdleWatcher(account.Name, "INBOX"); err != nil {
		t.Fatalf("StartIdleWatcher() error: %v", err)
	}
	if err := client.StartIdleWatcher(account.Name, "INBOX"); err == nil {
		t.Error("expected error for duplicate watcher")
	}

	client.StopIdleWatcher(account.Name, "INBOX")

	// A stopped folder can be watched again
	if err := client.StartIdleWatcher(account.Name, "INBOX"); err != nil {
		t.Fatalf("restart error: %v", err)
	}
	client.StopIdleWatcher(account.Name, "INBOX")
}

func TestClientCloseStopsEverything(t *testing.T) {
	addr := newTestIMAPServer(t)
	client, account := newTestClient(t, addr)

	if err := client.StartIdleWatcher(account.Name, "INBOX"); err != nil {
		t.Fatal(err)
	}
	client.StartBackgroundCoordinator()

	done := make(chan struct{})
	go func() {
		client.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
}
