package email

import (
	"context"
	"fmt"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/sirupsen/logrus"

	"github.com/debasish-raychawdhuri/tuimail-sub000/internal/config"
	"github.com/debasish-raychawdhuri/tuimail-sub000/internal/mailerr"
)

// RawMessage is one fetched message before MIME parsing.
type RawMessage struct {
	UID          uint32
	Flags        []string
	Body         []byte
	InternalDate time.Time
}

// Session is a logged-in IMAP connection for one account. A Session is not
// safe for concurrent use; every syncing goroutine opens its own.
type Session struct {
	account *config.Account
	client  *imapclient.Client
	logger  *logrus.Logger

	// notify carries at most one pending signal from unilateral server data
	// (EXISTS, EXPUNGE, FETCH updates).
	notify chan struct{}
}

// Connect dials the account's IMAP endpoint and logs in.
func Connect(account *config.Account, password string, logger *logrus.Logger) (*Session, error) {
	s := &Session{
		account: account,
		logger:  logger,
		notify:  make(chan struct{}, 1),
	}

	opts := &imapclient.Options{
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Expunge: func(seqNum uint32) { s.signal() },
			Mailbox: func(data *imapclient.UnilateralDataMailbox) { s.signal() },
			Fetch: func(msg *imapclient.FetchMessageData) {
				s.signal()
				// Drain the data items so the client can keep decoding
				for {
					if msg.Next() == nil {
						break
					}
				}
			},
		},
	}

	addr := account.IMAPAddr()

	var (
		cl  *imapclient.Client
		err error
	)
	switch account.IMAPSecurity {
	case config.SecuritySSL:
		cl, err = imapclient.DialTLS(addr, opts)
	case config.SecurityStartTLS:
		cl, err = imapclient.DialStartTLS(addr, opts)
	default:
		cl, err = imapclient.DialInsecure(addr, opts)
	}
	if err != nil {
		return nil, mailerr.E(mailerr.Connection, "imap connect",
			fmt.Errorf("failed to connect to IMAP server %s: %w", addr, err))
	}

	if err := cl.Login(account.IMAPUsername, password).Wait(); err != nil {
		cl.Close()
		return nil, mailerr.E(mailerr.Auth, "imap login",
			fmt.Errorf("failed to login as %s: %w", account.IMAPUsername, err))
	}

	s.client = cl
	logger.WithFields(logrus.Fields{
		"account": account.Name,
		"server":  addr,
	}).Debug("IMAP session established")
	return s, nil
}

// signal records a pending notification without blocking the reader goroutine.
func (s *Session) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// ListFolders lists all mailboxes on the server.
func (s *Session) ListFolders() ([]string, error) {
	mailboxes, err := s.client.List("", "*", nil).Collect()
	if err != nil {
		return nil, mailerr.E(mailerr.Protocol, "imap list",
			fmt.Errorf("failed to list folders: %w", err))
	}

	folders := make([]string, 0, len(mailboxes))
	for _, mb := range mailboxes {
		folders = append(folders, mb.Mailbox)
	}
	return folders, nil
}

// Select opens a folder read-write and reports its current state.
func (s *Session) Select(folder string) (*imap.SelectData, error) {
	data, err := s.client.Select(folder, nil).Wait()
	if err != nil {
		return nil, mailerr.E(mailerr.Protocol, "imap select",
			fmt.Errorf("failed to select folder %s: %w", folder, err))
	}
	return data, nil
}

// Examine opens a folder read-only.
func (s *Session) Examine(folder string) (*imap.SelectData, error) {
	data, err := s.client.Select(folder, &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return nil, mailerr.E(mailerr.Protocol, "imap examine",
			fmt.Errorf("failed to examine folder %s: %w", folder, err))
	}
	return data, nil
}

// Fetch downloads the messages in the sequence-number range [start, stop],
// full body included.
func (s *Session) Fetch(start, stop uint32) ([]*RawMessage, error) {
	seqSet := imap.SeqSet{}
	seqSet.AddRange(start, stop)
	return s.fetch(seqSet)
}

// UIDFetch downloads all messages with uid >= startUID.
func (s *Session) UIDFetch(startUID uint32) ([]*RawMessage, error) {
	uidSet := imap.UIDSet{}
	uidSet.AddRange(imap.UID(startUID), 0) // 0 means "*"
	return s.fetch(uidSet)
}

func (s *Session) fetch(numSet imap.NumSet) ([]*RawMessage, error) {
	bodySection := &imap.FetchItemBodySection{Peek: true}
	options := &imap.FetchOptions{
		Flags:        true,
		InternalDate: true,
		UID:          true,
		BodySection:  []*imap.FetchItemBodySection{bodySection},
	}

	msgs, err := s.client.Fetch(numSet, options).Collect()
	if err != nil {
		return nil, mailerr.E(mailerr.Protocol, "imap fetch",
			fmt.Errorf("failed to fetch messages: %w", err))
	}

	raws := make([]*RawMessage, 0, len(msgs))
	for _, buf := range msgs {
		raws = append(raws, &RawMessage{
			UID:          uint32(buf.UID),
			Flags:        flagStrings(buf.Flags),
			Body:         buf.FindBodySection(bodySection),
			InternalDate: buf.InternalDate,
		})
	}
	return raws, nil
}

// StoreFlags applies a flag change to a single message by uid.
func (s *Session) StoreFlags(uid uint32, op imap.StoreFlagsOp, flags ...imap.Flag) error {
	uidSet := imap.UIDSetNum(imap.UID(uid))
	_, err := s.client.Store(uidSet, &imap.StoreFlags{
		Op:    op,
		Flags: flags,
	}, nil).Collect()
	if err != nil {
		return mailerr.E(mailerr.Protocol, "imap store",
			fmt.Errorf("failed to store flags on uid %d: %w", uid, err))
	}
	return nil
}

// Expunge permanently removes messages flagged \Deleted from the selected
// folder.
func (s *Session) Expunge() error {
	if _, err := s.client.Expunge().Collect(); err != nil {
		return mailerr.E(mailerr.Protocol, "imap expunge",
			fmt.Errorf("failed to expunge folder: %w", err))
	}
	return nil
}

// SearchAll returns the sequence numbers of every message in the selected
// folder. The IDLE watcher uses the count for change detection.
func (s *Session) SearchAll() ([]uint32, error) {
	data, err := s.client.Search(&imap.SearchCriteria{}, nil).Wait()
	if err != nil {
		return nil, mailerr.E(mailerr.Protocol, "imap search",
			fmt.Errorf("failed to search folder: %w", err))
	}
	return data.AllSeqNums(), nil
}

// Move transfers a message to another folder. Servers without MOVE get the
// COPY, STORE \Deleted, EXPUNGE fallback from the client library.
func (s *Session) Move(uid uint32, dest string) error {
	uidSet := imap.UIDSetNum(imap.UID(uid))
	if _, err := s.client.Move(uidSet, dest).Wait(); err != nil {
		return mailerr.E(mailerr.Protocol, "imap move",
			fmt.Errorf("failed to move uid %d to %s: %w", uid, dest, err))
	}
	return nil
}

// SupportsIdle reports whether the server advertises the IDLE capability.
func (s *Session) SupportsIdle() bool {
	caps, err := s.client.Capability().Wait()
	if err != nil {
		return false
	}
	return caps.Has(imap.CapIdle)
}

// IdleWait runs one IDLE cycle bounded by timeout. It returns true when the
// server signalled a mailbox change, false on a quiet timeout. Cancelling ctx
// ends the wait early with ctx.Err().
func (s *Session) IdleWait(ctx context.Context, timeout time.Duration) (bool, error) {
	// A change observed while no IDLE was running is still a notification
	select {
	case <-s.notify:
		return true, nil
	default:
	}

	idleCmd, err := s.client.Idle()
	if err != nil {
		return false, mailerr.E(mailerr.Protocol, "imap idle",
			fmt.Errorf("failed to start IDLE: %w", err))
	}

	// The goroutine unblocks when the IDLE ends; the buffered channel lets it
	// exit even if the timer wins the race.
	done := make(chan error, 1)
	go func() {
		done <- idleCmd.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	notified := false
	select {
	case <-ctx.Done():
		idleCmd.Close()
		<-done
		return false, ctx.Err()

	case <-timer.C:

	case <-s.notify:
		notified = true

	case err := <-done:
		// IDLE ended on its own: the connection dropped or the server bailed
		if err == nil {
			err = fmt.Errorf("IDLE terminated unexpectedly")
		}
		return false, mailerr.E(mailerr.Connection, "imap idle", err)
	}

	if err := idleCmd.Close(); err != nil {
		<-done
		return notified, mailerr.E(mailerr.Connection, "imap idle",
			fmt.Errorf("failed to stop IDLE: %w", err))
	}
	if err := <-done; err != nil {
		return notified, mailerr.E(mailerr.Connection, "imap idle", err)
	}
	return notified, nil
}

// Noop pings the server to verify the connection is alive.
func (s *Session) Noop() error {
	if err := s.client.Noop().Wait(); err != nil {
		return mailerr.E(mailerr.Connection, "imap noop",
			fmt.Errorf("noop failed: %w", err))
	}
	return nil
}

// Logout ends the session cleanly.
func (s *Session) Logout() error {
	if err := s.client.Logout().Wait(); err != nil {
		return mailerr.E(mailerr.Connection, "imap logout",
			fmt.Errorf("failed to logout: %w", err))
	}
	return nil
}

// Close tears down the connection without a clean logout.
func (s *Session) Close() error {
	return s.client.Close()
}

// flagStrings converts server flags to their wire form, e.g. "\Seen".
func flagStrings(flags []imap.Flag) []string {
	out := make([]string, 0, len(flags))
	for _, f := range flags {
		out = append(out, string(f))
	}
	return out
}
