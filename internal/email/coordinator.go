package email

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/debasish-raychawdhuri/tuimail-sub000/internal/config"
	"github.com/debasish-raychawdhuri/tuimail-sub000/internal/credentials"
)

// Coordinator periodically drives the sync engine across every configured
// account. It is the fallback for servers without IDLE support and the
// initial population path at process start.
type Coordinator struct {
	cfg    *config.Config
	engine *Engine
	creds  CredentialStore
	logger *logrus.Logger
	dial   dialFunc

	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCoordinator creates a coordinator with the configured sync interval.
func NewCoordinator(cfg *config.Config, engine *Engine, creds CredentialStore, logger *logrus.Logger) *Coordinator {
	interval := 30 * time.Second
	if cfg.SyncInterval > 0 {
		interval = time.Duration(cfg.SyncInterval) * time.Second
	}
	return &Coordinator{
		cfg:      cfg,
		engine:   engine,
		creds:    creds,
		logger:   logger,
		dial:     engine.dial,
		interval: interval,
	}
}

// Start launches the sync loop. Starting a running coordinator is a no-op.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		return
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.run(ctx, c.done)
}

// Stop cancels the loop and blocks until it has exited.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (c *Coordinator) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	c.logger.WithField("interval", c.interval).Info("Background sync started")
	defer c.logger.Info("Background sync stopped")

	for {
		c.syncPass(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.interval):
		}
	}
}

// syncPass sweeps every configured account once. Per-account failures are
// logged and never abort the pass.
func (c *Coordinator) syncPass(ctx context.Context) {
	for i := range c.cfg.Accounts {
		if ctx.Err() != nil {
			return
		}
		account := &c.cfg.Accounts[i]
		if err := c.syncAccount(account); err != nil {
			c.logger.WithError(err).WithField("account", account.Name).Error("Background sync failed")
		}
	}
}

// syncAccount lists the account's folders and syncs its inbox.
func (c *Coordinator) syncAccount(account *config.Account) error {
	password, err := c.creds.GetPassword(account.Email, credentials.KindIMAP)
	if err != nil {
		return fmt.Errorf("failed to resolve password: %w", err)
	}

	sess, err := c.dial(account, password, c.logger)
	if err != nil {
		return err
	}
	folders, err := sess.ListFolders()
	sess.Close()
	if err != nil {
		return err
	}

	_, err = c.engine.SyncFolder(account, password, inboxFolder(folders))
	return err
}

// inboxFolder picks the inbox from a folder listing, defaulting to INBOX.
func inboxFolder(folders []string) string {
	for _, f := range folders {
		if strings.EqualFold(f, "INBOX") {
			return f
		}
	}
	return "INBOX"
}
