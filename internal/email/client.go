package email

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/sirupsen/logrus"

	"github.com/debasish-raychawdhuri/tuimail-sub000/internal/cache"
	"github.com/debasish-raychawdhuri/tuimail-sub000/internal/config"
	"github.com/debasish-raychawdhuri/tuimail-sub000/internal/credentials"
	"github.com/debasish-raychawdhuri/tuimail-sub000/pkg/types"
)

// CredentialStore supplies account passwords by kind ("imap" or "smtp").
type CredentialStore interface {
	GetPassword(accountID, kind string) (string, error)
}

// EmailClient is the process-wide mail facade: one cache store, one sync
// engine, one background coordinator, and any number of per-folder IDLE
// watchers behind a single API.
//
// The client shares the immutable configuration and the store handle across
// goroutines; every network operation opens its own session. Do not run a
// watcher and the coordinator against the same folder at the same time.
type EmailClient struct {
	cfg    *config.Config
	store  *cache.Store
	creds  CredentialStore
	logger *logrus.Logger

	engine      *Engine
	coordinator *Coordinator

	mu       sync.Mutex
	watchers map[string]*Watcher
}

// NewClient wires the facade together.
func NewClient(cfg *config.Config, store *cache.Store, creds CredentialStore, logger *logrus.Logger) *EmailClient {
	engine := NewEngine(store, logger)
	return &EmailClient{
		cfg:         cfg,
		store:       store,
		creds:       creds,
		logger:      logger,
		engine:      engine,
		coordinator: NewCoordinator(cfg, engine, creds, logger),
		watchers:    make(map[string]*Watcher),
	}
}

// SyncFolder synchronizes one folder and returns its emails, newest first.
func (c *EmailClient) SyncFolder(accountName, folder string) ([]*types.Email, error) {
	account, password, err := c.imapAccount(accountName)
	if err != nil {
		return nil, err
	}
	return c.engine.SyncFolder(account, password, folder)
}

// Send submits an outgoing message through the account's SMTP server.
func (c *EmailClient) Send(accountName string, msg *types.OutgoingMessage) error {
	account, err := c.cfg.GetAccountByName(accountName)
	if err != nil {
		return err
	}
	password, err := c.creds.GetPassword(account.Email, credentials.KindSMTP)
	if err != nil {
		return fmt.Errorf("failed to resolve SMTP password: %w", err)
	}
	return SendMessage(account, password, msg, c.logger)
}

// IsStale reports whether the folder's cached view is older than maxAge.
func (c *EmailClient) IsStale(accountName, folder string, maxAge time.Duration) (bool, error) {
	account, err := c.cfg.GetAccountByName(accountName)
	if err != nil {
		return false, err
	}
	return c.store.IsStale(account.Email, folder, maxAge)
}

// StartIdleWatcher begins push-driven watching of one folder. It fails with
// ErrIdleUnsupported when the server lacks IDLE, in which case the caller
// relies on the background coordinator instead.
func (c *EmailClient) StartIdleWatcher(accountName, folder string) error {
	account, password, err := c.imapAccount(accountName)
	if err != nil {
		return err
	}

	key := accountName + "/" + folder
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.watchers[key]; ok {
		return fmt.Errorf("watcher already running for %s", key)
	}

	w := NewWatcher(c.engine, account, password, folder, c.logger)
	if err := w.Start(context.Background()); err != nil {
		return err
	}
	c.watchers[key] = w
	return nil
}

// StopIdleWatcher stops the watcher for one folder, blocking until its loop
// has exited. Folders without a watcher are ignored.
func (c *EmailClient) StopIdleWatcher(accountName, folder string) {
	key := accountName + "/" + folder
	c.mu.Lock()
	w, ok := c.watchers[key]
	delete(c.watchers, key)
	c.mu.Unlock()

	if ok {
		w.Stop()
	}
}

// StartBackgroundCoordinator begins interval syncing of all accounts.
func (c *EmailClient) StartBackgroundCoordinator() {
	c.coordinator.Start(context.Background())
}

// StopBackgroundCoordinator stops interval syncing, blocking until the loop
// has exited.
func (c *EmailClient) StopBackgroundCoordinator() {
	c.coordinator.Stop()
}

// Close stops the coordinator and all watchers.
func (c *EmailClient) Close() error {
	c.coordinator.Stop()

	c.mu.Lock()
	watchers := make([]*Watcher, 0, len(c.watchers))
	for _, w := range c.watchers {
		watchers = append(watchers, w)
	}
	c.watchers = make(map[string]*Watcher)
	c.mu.Unlock()

	for _, w := range watchers {
		w.Stop()
	}
	return nil
}

// MarkSeen flags a message as read on the server and in the cache.
func (c *EmailClient) MarkSeen(accountName, folder string, uid uint32) error {
	return c.setSeen(accountName, folder, uid, true)
}

// MarkUnseen clears the read flag on the server and in the cache.
func (c *EmailClient) MarkUnseen(accountName, folder string, uid uint32) error {
	return c.setSeen(accountName, folder, uid, false)
}

func (c *EmailClient) setSeen(accountName, folder string, uid uint32, seen bool) error {
	account, sess, err := c.openSession(accountName, folder)
	if err != nil {
		return err
	}
	defer sess.Close()

	op := imap.StoreFlagsDel
	if seen {
		op = imap.StoreFlagsAdd
	}
	if err := sess.StoreFlags(uid, op, imap.FlagSeen); err != nil {
		return err
	}
	return c.store.UpdateSeen(account.Email, folder, uid, seen)
}

// DeleteEmail removes a message on the server and drops it from the cache.
func (c *EmailClient) DeleteEmail(accountName, folder string, uid uint32) error {
	account, sess, err := c.openSession(accountName, folder)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.StoreFlags(uid, imap.StoreFlagsAdd, imap.FlagDeleted); err != nil {
		return err
	}
	if err := sess.Expunge(); err != nil {
		return err
	}
	return c.store.DeleteEmail(account.Email, folder, uid)
}

// MoveEmail moves a message to another folder on the server and drops the
// cached copy; the destination folder picks it up on its next sync.
func (c *EmailClient) MoveEmail(accountName, folder string, uid uint32, dest string) error {
	account, sess, err := c.openSession(accountName, folder)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.Move(uid, dest); err != nil {
		return err
	}
	return c.store.DeleteEmail(account.Email, folder, uid)
}

// ListFolders lists the account's mailboxes from the server.
func (c *EmailClient) ListFolders(accountName string) ([]string, error) {
	account, password, err := c.imapAccount(accountName)
	if err != nil {
		return nil, err
	}

	sess, err := c.engine.dial(account, password, c.logger)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	return sess.ListFolders()
}

// LoadCached returns the cached view of a folder without touching the
// network.
func (c *EmailClient) LoadCached(accountName, folder string) ([]*types.Email, error) {
	account, err := c.cfg.GetAccountByName(accountName)
	if err != nil {
		return nil, err
	}
	return c.store.LoadEmails(account.Email, folder)
}

// SearchCached searches the cached emails of an account.
func (c *EmailClient) SearchCached(accountName, query string, limit int) ([]*types.Email, error) {
	account, err := c.cfg.GetAccountByName(accountName)
	if err != nil {
		return nil, err
	}
	return c.store.SearchText(account.Email, query, limit)
}

// openSession dials the account and selects the folder.
func (c *EmailClient) openSession(accountName, folder string) (*config.Account, *Session, error) {
	account, password, err := c.imapAccount(accountName)
	if err != nil {
		return nil, nil, err
	}

	sess, err := c.engine.dial(account, password, c.logger)
	if err != nil {
		return nil, nil, err
	}
	if _, err := sess.Select(folder); err != nil {
		sess.Close()
		return nil, nil, err
	}
	return account, sess, nil
}

// imapAccount resolves an account and its IMAP password.
func (c *EmailClient) imapAccount(accountName string) (*config.Account, string, error) {
	account, err := c.cfg.GetAccountByName(accountName)
	if err != nil {
		return nil, "", err
	}
	password, err := c.creds.GetPassword(account.Email, credentials.KindIMAP)
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve IMAP password: %w", err)
	}
	return account, password, nil
}
