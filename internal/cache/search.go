package cache

import (
	"fmt"
	"strings"
	"time"

	"github.com/debasish-raychawdhuri/tuimail-sub000/internal/mailerr"
	"github.com/debasish-raychawdhuri/tuimail-sub000/pkg/types"
)

// SearchOptions contains search parameters. Nil fields are ignored.
type SearchOptions struct {
	Account   string
	Folder    *string
	Sender    *string
	Recipient *string
	Subject   *string
	Body      *string
	Unseen    *bool
	DateFrom  *time.Time
	DateTo    *time.Time
	Limit     int
}

// Search queries the cached replica. Results are ordered newest first and
// carry no attachment data.
func (s *Store) Search(opts SearchOptions) ([]*types.Email, error) {
	conditions := []string{"account = ?"}
	args := []interface{}{opts.Account}

	if opts.Folder != nil {
		conditions = append(conditions, "folder = ?")
		args = append(args, *opts.Folder)
	}

	if opts.Sender != nil {
		conditions = append(conditions, "from_addrs LIKE ?")
		args = append(args, "%"+*opts.Sender+"%")
	}

	if opts.Recipient != nil {
		conditions = append(conditions, "(to_addrs LIKE ? OR cc_addrs LIKE ?)")
		term := "%" + *opts.Recipient + "%"
		args = append(args, term, term)
	}

	if opts.Subject != nil {
		conditions = append(conditions, "subject LIKE ?")
		args = append(args, "%"+*opts.Subject+"%")
	}

	if opts.Body != nil {
		conditions = append(conditions, "(body_text LIKE ? OR body_html LIKE ?)")
		term := "%" + *opts.Body + "%"
		args = append(args, term, term)
	}

	if opts.Unseen != nil {
		if *opts.Unseen {
			conditions = append(conditions, "seen = 0")
		} else {
			conditions = append(conditions, "seen = 1")
		}
	}

	if opts.DateFrom != nil {
		conditions = append(conditions, "date >= ?")
		args = append(args, opts.DateFrom.Unix())
	}

	if opts.DateTo != nil {
		conditions = append(conditions, "date <= ?")
		args = append(args, opts.DateTo.Unix())
	}

	// Set default limit
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := fmt.Sprintf(`
		SELECT folder, uid, message_id, subject, from_addrs, to_addrs, cc_addrs, bcc_addrs, date, body_text, body_html, flags, headers, seen
		FROM emails
		WHERE %s
		ORDER BY date DESC, uid DESC
		LIMIT ?
	`, strings.Join(conditions, " AND "))

	args = append(args, limit)

	rows, err := s.cache.DB().Queryx(query, args...)
	if err != nil {
		return nil, mailerr.E(mailerr.Database, "search emails", err)
	}
	defer rows.Close()

	var results []*types.Email
	for rows.Next() {
		email, err := scanEmail(rows)
		if err != nil {
			return nil, mailerr.E(mailerr.Database, "search emails", err)
		}
		results = append(results, email)
	}
	if err := rows.Err(); err != nil {
		return nil, mailerr.E(mailerr.Database, "search emails", err)
	}

	return results, nil
}

// SearchText is a convenience over Search matching query against subject,
// sender and body text.
func (s *Store) SearchText(account, query string, limit int) ([]*types.Email, error) {
	term := "%" + query + "%"

	sqlQuery := `
		SELECT folder, uid, message_id, subject, from_addrs, to_addrs, cc_addrs, bcc_addrs, date, body_text, body_html, flags, headers, seen
		FROM emails
		WHERE account = ? AND (subject LIKE ? OR from_addrs LIKE ? OR body_text LIKE ?)
		ORDER BY date DESC, uid DESC
		LIMIT ?
	`

	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	rows, err := s.cache.DB().Queryx(sqlQuery, account, term, term, term, limit)
	if err != nil {
		return nil, mailerr.E(mailerr.Database, "search emails", err)
	}
	defer rows.Close()

	var results []*types.Email
	for rows.Next() {
		email, err := scanEmail(rows)
		if err != nil {
			return nil, mailerr.E(mailerr.Database, "search emails", err)
		}
		results = append(results, email)
	}
	if err := rows.Err(); err != nil {
		return nil, mailerr.E(mailerr.Database, "search emails", err)
	}

	return results, nil
}
