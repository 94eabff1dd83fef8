package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/debasish-raychawdhuri/tuimail-sub000/internal/mailerr"
	"github.com/debasish-raychawdhuri/tuimail-sub000/pkg/types"
)

// Store provides methods for storing and retrieving the mail replica.
// Writes are serialized through a mutex; reads run concurrently under WAL.
type Store struct {
	cache  *Cache
	logger *logrus.Logger
	mu     sync.Mutex
}

// NewStore creates a new store instance
func NewStore(cache *Cache, logger *logrus.Logger) *Store {
	return &Store{
		cache:  cache,
		logger: logger,
	}
}

// SaveEmails upserts the given emails for (account, folder) in a single
// transaction. Each email's attachments are fully replaced (delete then
// insert) so they never desynchronize from their parent; partial writes are
// not observable.
func (s *Store) SaveEmails(account, folder string, emails []*types.Email) error {
	if len(emails) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.cache.DB().Beginx()
	if err != nil {
		return mailerr.E(mailerr.Database, "save emails", err)
	}
	defer tx.Rollback()

	const upsert = `
		INSERT INTO emails (account, folder, uid, message_id, subject, from_addrs, to_addrs, cc_addrs, bcc_addrs, date, body_text, body_html, flags, headers, seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account, folder, uid) DO UPDATE SET
			message_id = excluded.message_id,
			subject = excluded.subject,
			from_addrs = excluded.from_addrs,
			to_addrs = excluded.to_addrs,
			cc_addrs = excluded.cc_addrs,
			bcc_addrs = excluded.bcc_addrs,
			date = excluded.date,
			body_text = excluded.body_text,
			body_html = excluded.body_html,
			flags = excluded.flags,
			headers = excluded.headers,
			seen = excluded.seen,
			updated_at = CURRENT_TIMESTAMP
	`

	for _, email := range emails {
		fromJSON, toJSON, ccJSON, bccJSON, flagsJSON, headersJSON, err := marshalEmailFields(email)
		if err != nil {
			return mailerr.E(mailerr.Database, "save emails", err)
		}

		_, err = tx.Exec(upsert,
			account,
			folder,
			email.UID,
			email.MessageID,
			email.Subject,
			fromJSON,
			toJSON,
			ccJSON,
			bccJSON,
			email.Date.Unix(),
			email.BodyText,
			email.BodyHTML,
			flagsJSON,
			headersJSON,
			boolToInt(email.Seen),
		)
		if err != nil {
			return mailerr.E(mailerr.Database, "save emails", fmt.Errorf("failed to upsert email %d: %w", email.UID, err))
		}

		// Replace attachments wholesale so they always match the email row
		if _, err := tx.Exec("DELETE FROM attachments WHERE account = ? AND folder = ? AND email_uid = ?", account, folder, email.UID); err != nil {
			return mailerr.E(mailerr.Database, "save emails", fmt.Errorf("failed to clear attachments for %d: %w", email.UID, err))
		}
		for _, att := range email.Attachments {
			_, err := tx.Exec(
				"INSERT INTO attachments (account, folder, email_uid, filename, content_type, data, size) VALUES (?, ?, ?, ?, ?, ?, ?)",
				account, folder, email.UID, att.Filename, att.ContentType, att.Data, att.Size,
			)
			if err != nil {
				return mailerr.E(mailerr.Database, "save emails", fmt.Errorf("failed to insert attachment %s for %d: %w", att.Filename, email.UID, err))
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return mailerr.E(mailerr.Database, "save emails", err)
	}

	s.logger.WithFields(logrus.Fields{
		"account": account,
		"folder":  folder,
		"count":   len(emails),
	}).Debug("Saved emails")

	return nil
}

// LoadEmails returns all cached emails for (account, folder) ordered by
// date descending, attachments included.
func (s *Store) LoadEmails(account, folder string) ([]*types.Email, error) {
	const query = `
		SELECT folder, uid, message_id, subject, from_addrs, to_addrs, cc_addrs, bcc_addrs, date, body_text, body_html, flags, headers, seen
		FROM emails
		WHERE account = ? AND folder = ?
		ORDER BY date DESC, uid DESC
	`

	rows, err := s.cache.DB().Queryx(query, account, folder)
	if err != nil {
		return nil, mailerr.E(mailerr.Database, "load emails", err)
	}
	defer rows.Close()

	var emails []*types.Email
	byUID := make(map[uint32]*types.Email)
	for rows.Next() {
		email, err := scanEmail(rows)
		if err != nil {
			return nil, mailerr.E(mailerr.Database, "load emails", err)
		}
		emails = append(emails, email)
		byUID[email.UID] = email
	}
	if err := rows.Err(); err != nil {
		return nil, mailerr.E(mailerr.Database, "load emails", err)
	}

	if err := s.loadAttachments(account, folder, byUID); err != nil {
		return nil, err
	}

	return emails, nil
}

// loadAttachments attaches all stored attachments for (account, folder) to
// the emails in byUID.
func (s *Store) loadAttachments(account, folder string, byUID map[uint32]*types.Email) error {
	if len(byUID) == 0 {
		return nil
	}

	rows, err := s.cache.DB().Queryx(
		"SELECT email_uid, filename, content_type, data, size FROM attachments WHERE account = ? AND folder = ? ORDER BY id",
		account, folder,
	)
	if err != nil {
		return mailerr.E(mailerr.Database, "load attachments", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			uid         uint32
			att         types.Attachment
			contentType sql.NullString
		)
		if err := rows.Scan(&uid, &att.Filename, &contentType, &att.Data, &att.Size); err != nil {
			return mailerr.E(mailerr.Database, "load attachments", err)
		}
		att.ContentType = contentType.String

		if email, ok := byUID[uid]; ok {
			email.Attachments = append(email.Attachments, att)
		}
	}
	return rows.Err()
}

// SaveFolderMetadata upserts the sync state for (account, folder). The
// last_uid watermark never moves backwards.
func (s *Store) SaveFolderMetadata(meta *types.FolderMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `
		INSERT INTO folder_metadata (account, folder, last_uid, total_messages, last_sync)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account, folder) DO UPDATE SET
			last_uid = MAX(folder_metadata.last_uid, excluded.last_uid),
			total_messages = excluded.total_messages,
			last_sync = excluded.last_sync
	`
	_, err := s.cache.DB().Exec(query, meta.Account, meta.Folder, meta.LastUID, meta.TotalMessages, meta.LastSync.Unix())
	if err != nil {
		return mailerr.E(mailerr.Database, "save folder metadata", err)
	}
	return nil
}

// LoadFolderMetadata returns the sync state for (account, folder), or nil
// when the folder has never been synced.
func (s *Store) LoadFolderMetadata(account, folder string) (*types.FolderMetadata, error) {
	var (
		lastUID  uint32
		total    uint32
		lastSync int64
	)
	err := s.cache.DB().QueryRow(
		"SELECT last_uid, total_messages, last_sync FROM folder_metadata WHERE account = ? AND folder = ?",
		account, folder,
	).Scan(&lastUID, &total, &lastSync)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mailerr.E(mailerr.Database, "load folder metadata", err)
	}

	meta := &types.FolderMetadata{
		Account:       account,
		Folder:        folder,
		LastUID:       lastUID,
		TotalMessages: total,
	}
	if lastSync > 0 {
		meta.LastSync = time.Unix(lastSync, 0)
	}
	return meta, nil
}

// EmailCount returns the number of cached emails for (account, folder).
func (s *Store) EmailCount(account, folder string) (int, error) {
	var count int
	err := s.cache.DB().QueryRow(
		"SELECT COUNT(*) FROM emails WHERE account = ? AND folder = ?",
		account, folder,
	).Scan(&count)
	if err != nil {
		return 0, mailerr.E(mailerr.Database, "count emails", err)
	}
	return count, nil
}

// IsStale reports whether the folder's last successful sync is older than
// maxAge. A folder with no recorded sync is stale. The comparison is
// strict: exactly maxAge old is not yet stale.
func (s *Store) IsStale(account, folder string, maxAge time.Duration) (bool, error) {
	var lastSync int64
	err := s.cache.DB().QueryRow(
		"SELECT last_sync FROM folder_metadata WHERE account = ? AND folder = ?",
		account, folder,
	).Scan(&lastSync)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, mailerr.E(mailerr.Database, "check staleness", err)
	}
	if lastSync == 0 {
		return true, nil
	}

	return time.Now().Unix()-lastSync > int64(maxAge.Seconds()), nil
}

// UpdateSeen sets the seen state of a cached email, keeping the flags
// column consistent with the seen column.
func (s *Store) UpdateSeen(account, folder string, uid uint32, seen bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.cache.DB().Beginx()
	if err != nil {
		return mailerr.E(mailerr.Database, "update seen", err)
	}
	defer tx.Rollback()

	var flagsJSON sql.NullString
	err = tx.QueryRow(
		"SELECT flags FROM emails WHERE account = ? AND folder = ? AND uid = ?",
		account, folder, uid,
	).Scan(&flagsJSON)
	if err == sql.ErrNoRows {
		return mailerr.E(mailerr.Database, "update seen", fmt.Errorf("email not found: %d", uid))
	}
	if err != nil {
		return mailerr.E(mailerr.Database, "update seen", err)
	}

	var flags []string
	if flagsJSON.Valid && flagsJSON.String != "" {
		if err := json.Unmarshal([]byte(flagsJSON.String), &flags); err != nil {
			return mailerr.E(mailerr.Database, "update seen", fmt.Errorf("failed to unmarshal flags: %w", err))
		}
	}
	flags = setFlag(flags, flagSeen, seen)

	updated, err := json.Marshal(flags)
	if err != nil {
		return mailerr.E(mailerr.Database, "update seen", err)
	}

	_, err = tx.Exec(
		"UPDATE emails SET seen = ?, flags = ?, updated_at = CURRENT_TIMESTAMP WHERE account = ? AND folder = ? AND uid = ?",
		boolToInt(seen), string(updated), account, folder, uid,
	)
	if err != nil {
		return mailerr.E(mailerr.Database, "update seen", err)
	}

	if err := tx.Commit(); err != nil {
		return mailerr.E(mailerr.Database, "update seen", err)
	}
	return nil
}

// DeleteEmail removes a cached email; its attachments go with it.
func (s *Store) DeleteEmail(account, folder string, uid uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.cache.DB().Exec(
		"DELETE FROM emails WHERE account = ? AND folder = ? AND uid = ?",
		account, folder, uid,
	)
	if err != nil {
		return mailerr.E(mailerr.Database, "delete email", err)
	}
	return nil
}

// flagSeen is the IMAP seen flag as stored in the flags column.
const flagSeen = "\\Seen"

// setFlag adds or removes a flag from the set, preserving order.
func setFlag(flags []string, flag string, present bool) []string {
	idx := -1
	for i, f := range flags {
		if f == flag {
			idx = i
			break
		}
	}
	if present && idx < 0 {
		return append(flags, flag)
	}
	if !present && idx >= 0 {
		return append(flags[:idx], flags[idx+1:]...)
	}
	return flags
}

// scanEmail scans one emails row. Attachments are loaded separately.
func scanEmail(rows *sqlx.Rows) (*types.Email, error) {
	var (
		email     types.Email
		messageID sql.NullString
		subject   sql.NullString
		fromJSON  sql.NullString
		toJSON    sql.NullString
		ccJSON    sql.NullString
		bccJSON   sql.NullString
		date      int64
		bodyText  sql.NullString
		bodyHTML  sql.NullString
		flags     sql.NullString
		headers   sql.NullString
		seen      int
	)

	err := rows.Scan(
		&email.Folder,
		&email.UID,
		&messageID,
		&subject,
		&fromJSON,
		&toJSON,
		&ccJSON,
		&bccJSON,
		&date,
		&bodyText,
		&bodyHTML,
		&flags,
		&headers,
		&seen,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan email row: %w", err)
	}

	email.MessageID = messageID.String
	email.Subject = subject.String
	email.Date = time.Unix(date, 0)
	email.BodyText = bodyText.String
	email.BodyHTML = bodyHTML.String
	email.Seen = seen != 0

	for _, field := range []struct {
		src  sql.NullString
		dst  interface{}
		name string
	}{
		{fromJSON, &email.From, "from"},
		{toJSON, &email.To, "to"},
		{ccJSON, &email.Cc, "cc"},
		{bccJSON, &email.Bcc, "bcc"},
		{flags, &email.Flags, "flags"},
		{headers, &email.Headers, "headers"},
	} {
		if !field.src.Valid || field.src.String == "" {
			continue
		}
		if err := json.Unmarshal([]byte(field.src.String), field.dst); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", field.name, err)
		}
	}

	return &email, nil
}

// marshalEmailFields serializes the JSON columns of an email row.
func marshalEmailFields(email *types.Email) (from, to, cc, bcc, flags, headers string, err error) {
	out := make([]string, 6)
	for i, v := range []interface{}{email.From, email.To, email.Cc, email.Bcc, email.Flags, email.Headers} {
		b, merr := json.Marshal(v)
		if merr != nil {
			return "", "", "", "", "", "", fmt.Errorf("failed to marshal email %d: %w", email.UID, merr)
		}
		out[i] = string(b)
	}
	return out[0], out[1], out[2], out[3], out[4], out[5], nil
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
