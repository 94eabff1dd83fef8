package email

import (
	"fmt"
	"io"
	"net"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-imap/v2/imapserver"
	"github.com/emersion/go-imap/v2/imapserver/imapmemserver"
	"github.com/sirupsen/logrus"

	"github.com/debasish-raychawdhuri/tuimail-sub000/internal/cache"
	"github.com/debasish-raychawdhuri/tuimail-sub000/internal/config"
	"github.com/debasish-raychawdhuri/tuimail-sub000/internal/credentials"
)

const (
	testUsername = "tester"
	testPassword = "s3cret"
)

// discardLogger returns a logger whose output is dropped.
func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// newTestIMAPServer starts an in-memory IMAP server with INBOX and Archive
// folders and returns its listen address.
func newTestIMAPServer(t *testing.T) string {
	addr, _ := startTestIMAPServer(t)
	return addr
}

// startTestIMAPServer also hands out the server so tests can shut it down
// mid-flight.
func startTestIMAPServer(t *testing.T) (string, *imapserver.Server) {
	t.Helper()

	memSrv := imapmemserver.New()
	user := imapmemserver.NewUser(testUsername, testPassword)
	if err := user.Create("INBOX", nil); err != nil {
		t.Fatal(err)
	}
	if err := user.Create("Archive", nil); err != nil {
		t.Fatal(err)
	}
	memSrv.AddUser(user)

	srv := imapserver.New(&imapserver.Options{
		NewSession: func(_ *imapserver.Conn) (imapserver.Session, *imapserver.GreetingData, error) {
			return memSrv.NewSession(), nil, nil
		},
		InsecureAuth: true,
		Caps: imap.CapSet{
			imap.CapIMAP4rev1: {},
		},
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })

	return ln.Addr().String(), srv
}

// testAccount builds an account pointing at the given server address.
func testAccount(t *testing.T, addr string) *config.Account {
	t.Helper()

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}

	return &config.Account{
		Name:         "work",
		Email:        "tester@example.net",
		IMAPHost:     host,
		IMAPPort:     port,
		IMAPSecurity: config.SecurityNone,
		IMAPUsername: testUsername,
		SMTPHost:     host,
		SMTPPort:     port,
		SMTPSecurity: config.SecurityNone,
		SMTPUsername: testUsername,
	}
}

// deadAddr returns an address nothing is listening on.
func deadAddr(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

// newTestStore opens a store backed by a throwaway database.
func newTestStore(t *testing.T) *cache.Store {
	t.Helper()

	logger := discardLogger()
	c, err := cache.NewCache(filepath.Join(t.TempDir(), "cache.db"), logger)
	if err != nil {
		t.Fatalf("NewCache() error: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return cache.NewStore(c, logger)
}

// newTestEngine returns an engine over a throwaway store.
func newTestEngine(t *testing.T) (*Engine, *cache.Store) {
	t.Helper()
	store := newTestStore(t)
	return NewEngine(store, discardLogger()), store
}

// appendTestMail appends a raw message to a mailbox through a direct client,
// bypassing the code under test.
func appendTestMail(t *testing.T, addr, mailbox, raw string) {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	c := imapclient.New(conn, nil)
	defer c.Close()
	if err := c.Login(testUsername, testPassword).Wait(); err != nil {
		t.Fatal(err)
	}

	cmd := c.Append(mailbox, int64(len(raw)), nil)
	if _, err := cmd.Write([]byte(raw)); err != nil {
		t.Fatal(err)
	}
	if err := cmd.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := cmd.Wait(); err != nil {
		t.Fatal(err)
	}
}

// numberedMail builds a plain text message whose date increases with n, so
// higher numbers sort newer.
func numberedMail(n int) string {
	return fmt.Sprintf("MIME-Version: 1.0\r\n"+
		"From: sender@example.com\r\n"+
		"To: tester@example.net\r\n"+
		"Subject: Message %d\r\n"+
		"Date: Mon, 02 Jun 2025 08:%02d:00 +0000\r\n"+
		"Message-Id: <msg-%d@example.com>\r\n"+
		"Content-Type: text/plain; charset=utf-8\r\n"+
		"\r\n"+
		"Body of message %d\r\n", n, n%60, n, n)
}

// testMailPlain is a minimal single part message.
const testMailPlain = "MIME-Version: 1.0\r\n" +
	"From: Alice Sender <alice@example.com>\r\n" +
	"To: tester@example.net\r\n" +
	"Cc: carol@example.com\r\n" +
	"Subject: Quarterly report\r\n" +
	"Date: Mon, 02 Jun 2025 09:30:00 +0000\r\n" +
	"Message-Id: <plain-1@example.com>\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"The numbers are in.\r\n"

// testMailMultipart carries a text part and a binary attachment.
const testMailMultipart = "MIME-Version: 1.0\r\n" +
	"From: alice@example.com\r\n" +
	"To: tester@example.net\r\n" +
	"Subject: With attachment\r\n" +
	"Date: Mon, 02 Jun 2025 10:00:00 +0000\r\n" +
	"Message-Id: <multi-1@example.com>\r\n" +
	"Content-Type: multipart/mixed; boundary=\"FRONTIER\"\r\n" +
	"\r\n" +
	"--FRONTIER\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"See attached.\r\n" +
	"--FRONTIER\r\n" +
	"Content-Type: application/pdf\r\n" +
	"Content-Disposition: attachment; filename=\"report.pdf\"\r\n" +
	"\r\n" +
	"PDFDATA\r\n" +
	"--FRONTIER--\r\n"

// testMailHTMLOnly has an HTML body and no plain text alternative.
const testMailHTMLOnly = "MIME-Version: 1.0\r\n" +
	"From: alice@example.com\r\n" +
	"To: tester@example.net\r\n" +
	"Subject: HTML only\r\n" +
	"Date: Mon, 02 Jun 2025 11:00:00 +0000\r\n" +
	"Message-Id: <html-1@example.com>\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<html><body><p>Rendered content</p></body></html>\r\n"

// fakeCreds serves fixed passwords for every account.
type fakeCreds struct {
	imap string
	smtp string
}

func (f *fakeCreds) GetPassword(accountID, kind string) (string, error) {
	switch kind {
	case credentials.KindIMAP:
		return f.imap, nil
	case credentials.KindSMTP:
		return f.smtp, nil
	}
	return "", fmt.Errorf("unknown credential kind %q", kind)
}
