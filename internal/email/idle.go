package email

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/debasish-raychawdhuri/tuimail-sub000/internal/config"
	"github.com/debasish-raychawdhuri/tuimail-sub000/internal/mailerr"
)

const (
	defaultIdleTimeout   = 30 * time.Second
	maxNoopFailures      = 3
	maxReconnectAttempts = 10
	maxReconnectWait     = 60 * time.Second
)

// ErrIdleUnsupported marks servers without the IDLE capability. The watcher
// never retries it; callers fall back to interval polling instead.
var ErrIdleUnsupported = errors.New("server does not support IDLE")

// Watcher runs an IDLE loop for one account folder, pulling new messages
// into the store as the server announces them.
type Watcher struct {
	account  *config.Account
	password string
	folder   string
	engine   *Engine
	logger   *logrus.Logger
	dial     dialFunc

	// idleTimeout bounds each IDLE cycle; shortened in tests.
	idleTimeout time.Duration

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewWatcher prepares an IDLE watcher for one folder. Start launches it.
func NewWatcher(engine *Engine, account *config.Account, password, folder string, logger *logrus.Logger) *Watcher {
	return &Watcher{
		account:     account,
		password:    password,
		folder:      folder,
		engine:      engine,
		logger:      logger,
		dial:        engine.dial,
		idleTimeout: defaultIdleTimeout,
		done:        make(chan struct{}),
	}
}

// Start connects and launches the watch loop in its own goroutine. A server
// without IDLE support fails here, before the goroutine exists, so the
// caller can fall back to polling.
func (w *Watcher) Start(ctx context.Context) error {
	sess, count, err := w.connect()
	if err != nil {
		return err
	}

	ctx, w.cancel = context.WithCancel(ctx)
	go func() {
		defer close(w.done)
		w.err = w.run(ctx, sess, count)
	}()
	return nil
}

// Stop cancels the watcher and blocks until the loop has exited.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	<-w.done
}

// Done is closed when the watch loop has exited.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

// Err reports why the watcher stopped. It blocks until the loop has exited
// and returns nil after a clean Stop.
func (w *Watcher) Err() error {
	<-w.done
	return w.err
}

func (w *Watcher) run(ctx context.Context, sess *Session, lastCount uint32) error {
	log := w.logger.WithFields(logrus.Fields{
		"account": w.account.Email,
		"folder":  w.folder,
	})
	log.Info("Watching folder")
	defer log.Info("Watcher stopped")

	noopFailures := 0
	for {
		if ctx.Err() != nil {
			sess.Close()
			return nil
		}

		notified, err := sess.IdleWait(ctx, w.idleTimeout)
		if err != nil {
			sess.Close()
			if ctx.Err() != nil {
				return nil
			}
			log.WithError(err).Warn("IDLE failed, reconnecting")
			if sess, lastCount, err = w.reconnect(ctx, log); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			noopFailures = 0
			continue
		}

		if notified {
			count, err := w.checkNewMail(sess, lastCount, log)
			if err != nil {
				sess.Close()
				log.WithError(err).Warn("Failed to fetch new mail, reconnecting")
				if sess, lastCount, err = w.reconnect(ctx, log); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				noopFailures = 0
			} else {
				lastCount = count
			}
			continue
		}

		// Quiet timeout: verify the connection is still alive
		if err := sess.Noop(); err != nil {
			noopFailures++
			log.WithError(err).WithField("failures", noopFailures).Warn("Health check failed")
			if noopFailures >= maxNoopFailures {
				sess.Close()
				if sess, lastCount, err = w.reconnect(ctx, log); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
				noopFailures = 0
			}
			continue
		}
		noopFailures = 0
	}
}

// connect opens a session on the watched folder and reports the current
// message count.
func (w *Watcher) connect() (*Session, uint32, error) {
	sess, err := w.dial(w.account, w.password, w.logger)
	if err != nil {
		return nil, 0, err
	}

	selectData, err := sess.Select(w.folder)
	if err != nil {
		sess.Close()
		return nil, 0, err
	}

	if !sess.SupportsIdle() {
		sess.Close()
		return nil, 0, mailerr.E(mailerr.Protocol, "idle watch", ErrIdleUnsupported)
	}

	return sess, selectData.NumMessages, nil
}

// reconnect re-establishes the session with linear backoff. It gives up when
// the attempt cap is reached or the context ends.
func (w *Watcher) reconnect(ctx context.Context, log *logrus.Entry) (*Session, uint32, error) {
	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		wait := backoffDelay(attempt)
		log.WithFields(logrus.Fields{
			"attempt": attempt,
			"wait":    wait,
		}).Info("Reconnecting watcher")

		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-time.After(wait):
		}

		sess, count, err := w.connect()
		if err != nil {
			if errors.Is(err, ErrIdleUnsupported) {
				return nil, 0, err
			}
			log.WithError(err).Warn("Reconnect failed")
			continue
		}
		log.Info("Watcher reconnected")
		return sess, count, nil
	}
	return nil, 0, mailerr.E(mailerr.Connection, "idle watch",
		fmt.Errorf("failed to reconnect after %d attempts", maxReconnectAttempts))
}

// checkNewMail compares the server's message count against the last known
// value and pulls the delta when the folder grew.
func (w *Watcher) checkNewMail(sess *Session, lastCount uint32, log *logrus.Entry) (uint32, error) {
	seqNums, err := sess.SearchAll()
	if err != nil {
		return lastCount, err
	}
	count := uint32(len(seqNums))

	switch {
	case count > lastCount:
		emails, err := w.engine.FetchSinceCount(sess, w.account.Email, w.folder, lastCount, count)
		if err != nil {
			return lastCount, err
		}
		log.WithField("new", len(emails)).Info("New mail")
	case count < lastCount:
		log.WithFields(logrus.Fields{"was": lastCount, "now": count}).Debug("Folder shrank")
	}
	return count, nil
}

// backoffDelay computes the wait before reconnect attempt n.
func backoffDelay(attempt int) time.Duration {
	d := time.Duration(5*attempt) * time.Second
	if d > maxReconnectWait {
		d = maxReconnectWait
	}
	return d
}
