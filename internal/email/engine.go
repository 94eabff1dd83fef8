package email

import (
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/debasish-raychawdhuri/tuimail-sub000/internal/cache"
	"github.com/debasish-raychawdhuri/tuimail-sub000/internal/config"
	"github.com/debasish-raychawdhuri/tuimail-sub000/pkg/types"
)

const (
	// syncBatchSize bounds a single FETCH during a first sync.
	syncBatchSize = 500
	// batchPause spaces out batch fetches so large folders don't hammer the
	// server.
	batchPause = 100 * time.Millisecond
)

// dialFunc opens a logged-in IMAP session. Swappable in tests.
type dialFunc func(account *config.Account, password string, logger *logrus.Logger) (*Session, error)

// Engine performs cache-first folder synchronization.
type Engine struct {
	store  *cache.Store
	logger *logrus.Logger
	dial   dialFunc
}

// NewEngine creates a sync engine backed by the given store.
func NewEngine(store *cache.Store, logger *logrus.Logger) *Engine {
	return &Engine{
		store:  store,
		logger: logger,
		dial:   Connect,
	}
}

// SyncFolder brings the cached view of a folder up to date and returns it,
// newest first. When the server is unreachable and the cache holds emails,
// the cached view is served instead of an error.
func (e *Engine) SyncFolder(account *config.Account, password, folder string) ([]*types.Email, error) {
	log := e.logger.WithFields(logrus.Fields{
		"account": account.Email,
		"folder":  folder,
	})

	cached, err := e.store.LoadEmails(account.Email, folder)
	if err != nil {
		return nil, fmt.Errorf("failed to load cached emails: %w", err)
	}
	meta, err := e.store.LoadFolderMetadata(account.Email, folder)
	if err != nil {
		return nil, fmt.Errorf("failed to load folder metadata: %w", err)
	}
	if meta == nil {
		meta = &types.FolderMetadata{Account: account.Email, Folder: folder}
	}

	sess, err := e.dial(account, password, e.logger)
	if err != nil {
		return e.degrade(cached, log, err)
	}
	defer sess.Close()

	selectData, err := sess.Select(folder)
	if err != nil {
		return e.degrade(cached, log, err)
	}
	exists := selectData.NumMessages

	var fetched []*types.Email
	switch {
	case meta.LastUID == 0:
		fetched, err = e.fetchAll(sess, folder, exists, log)
	case exists > meta.TotalMessages:
		fetched, err = e.fetchNew(sess, folder, meta.LastUID, log)
	default:
		log.WithField("messages", exists).Debug("Folder unchanged")
	}
	if err != nil {
		return e.degrade(cached, log, err)
	}

	merged := mergeEmails(cached, fetched)

	for _, em := range fetched {
		if em.UID > meta.LastUID {
			meta.LastUID = em.UID
		}
	}
	meta.TotalMessages = exists
	meta.LastSync = time.Now()

	// Persistence failures are logged; the merged view is still served
	if err := e.store.SaveEmails(account.Email, folder, merged); err != nil {
		log.WithError(err).Error("Failed to persist synced emails")
	} else if err := e.store.SaveFolderMetadata(meta); err != nil {
		log.WithError(err).Error("Failed to persist folder metadata")
	}

	log.WithFields(logrus.Fields{
		"fetched": len(fetched),
		"total":   len(merged),
	}).Info("Synced folder")
	return merged, nil
}

// FetchSinceCount downloads the messages that arrived after lastCount by
// sequence number, persists them, and returns them parsed. The IDLE watcher
// calls this when the server signals a change.
func (e *Engine) FetchSinceCount(sess *Session, account, folder string, lastCount, currentCount uint32) ([]*types.Email, error) {
	if currentCount <= lastCount {
		return nil, nil
	}

	log := e.logger.WithFields(logrus.Fields{
		"account": account,
		"folder":  folder,
	})

	raws, err := sess.Fetch(lastCount+1, currentCount)
	if err != nil {
		return nil, err
	}

	emails := e.parseAll(raws, folder, log)
	if len(emails) == 0 {
		return nil, nil
	}

	if err := e.store.SaveEmails(account, folder, emails); err != nil {
		log.WithError(err).Error("Failed to persist new emails")
	}

	// Advance the watermark so the next full sync won't refetch these
	var maxUID uint32
	for _, em := range emails {
		if em.UID > maxUID {
			maxUID = em.UID
		}
	}
	meta := &types.FolderMetadata{
		Account:       account,
		Folder:        folder,
		LastUID:       maxUID,
		TotalMessages: currentCount,
		LastSync:      time.Now(),
	}
	if err := e.store.SaveFolderMetadata(meta); err != nil {
		log.WithError(err).Error("Failed to persist folder metadata")
	}

	log.WithField("new", len(emails)).Info("Fetched new emails")
	return emails, nil
}

// degrade serves the cached view when the server failed mid-sync. An empty
// cache propagates the error instead.
func (e *Engine) degrade(cached []*types.Email, log *logrus.Entry, err error) ([]*types.Email, error) {
	if len(cached) > 0 {
		log.WithError(err).Warn("Server unavailable, serving cached emails")
		return cached, nil
	}
	return nil, err
}

// fetchAll downloads every message in the folder in bounded batches.
func (e *Engine) fetchAll(sess *Session, folder string, exists uint32, log *logrus.Entry) ([]*types.Email, error) {
	if exists == 0 {
		return nil, nil
	}

	ranges := batchRanges(exists, syncBatchSize)
	emails := make([]*types.Email, 0, exists)
	for i, r := range ranges {
		if i > 0 {
			time.Sleep(batchPause)
		}
		raws, err := sess.Fetch(r.start, r.stop)
		if err != nil {
			return nil, err
		}
		emails = append(emails, e.parseAll(raws, folder, log)...)
		log.WithFields(logrus.Fields{
			"batch":    i + 1,
			"batches":  len(ranges),
			"messages": len(raws),
		}).Debug("Fetched batch")
	}
	return emails, nil
}

// fetchNew downloads messages above the uid watermark.
func (e *Engine) fetchNew(sess *Session, folder string, lastUID uint32, log *logrus.Entry) ([]*types.Email, error) {
	raws, err := sess.UIDFetch(lastUID + 1)
	if err != nil {
		return nil, err
	}

	// Servers answer x:* with the last message when x is past the end, so
	// drop anything at or below the watermark
	fresh := raws[:0]
	for _, raw := range raws {
		if raw.UID > lastUID {
			fresh = append(fresh, raw)
		}
	}
	return e.parseAll(fresh, folder, log), nil
}

// parseAll converts raw messages, skipping ones that cannot be parsed.
func (e *Engine) parseAll(raws []*RawMessage, folder string, log *logrus.Entry) []*types.Email {
	emails := make([]*types.Email, 0, len(raws))
	for _, raw := range raws {
		em, err := ParseMessage(raw, folder)
		if err != nil {
			log.WithError(err).WithField("uid", raw.UID).Warn("Skipping unparseable message")
			continue
		}
		emails = append(emails, em)
	}
	return emails
}

type seqRange struct {
	start, stop uint32
}

// batchRanges splits [1, total] into consecutive ranges of at most size.
func batchRanges(total, size uint32) []seqRange {
	var ranges []seqRange
	for start := uint32(1); start <= total; start += size {
		stop := start + size - 1
		if stop > total {
			stop = total
		}
		ranges = append(ranges, seqRange{start: start, stop: stop})
	}
	return ranges
}

// mergeEmails combines cached and freshly fetched emails keyed by uid, the
// fetched copy winning on collision, newest first. An empty delta returns
// the cached slice unchanged.
func mergeEmails(cached, fetched []*types.Email) []*types.Email {
	if len(fetched) == 0 {
		return cached
	}

	byUID := make(map[uint32]*types.Email, len(cached)+len(fetched))
	for _, em := range cached {
		byUID[em.UID] = em
	}
	for _, em := range fetched {
		byUID[em.UID] = em
	}

	merged := make([]*types.Email, 0, len(byUID))
	for _, em := range byUID {
		merged = append(merged, em)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Date.Equal(merged[j].Date) {
			return merged[i].UID > merged[j].UID
		}
		return merged[i].Date.After(merged[j].Date)
	})
	return merged
}
