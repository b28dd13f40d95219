// Package archive persists conversation history in a local sqlite database.
// Rows are written as messages arrive and read back for scroll-back paging
// and search. Accounts on the do-not-log list never reach this package.
package archive

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	chaterrors "chatcore/pkg/errors"
	"chatcore/pkg/logger"
)

// Record is one archived message row.
type Record struct {
	LogID     string
	Account   string
	JID       string // bare JID, or full JID for MUC private chats
	Resource  string
	Kind      string // incoming | outgoing
	Type      string // chat | normal | groupchat | pm
	Text      string
	Subject   string
	MessageID string
	Timestamp time.Time
	Read      bool
}

const (
	KindIncoming = "incoming"
	KindOutgoing = "outgoing"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	log_id     TEXT PRIMARY KEY,
	account    TEXT NOT NULL,
	jid        TEXT NOT NULL,
	resource   TEXT NOT NULL DEFAULT '',
	kind       TEXT NOT NULL,
	type       TEXT NOT NULL,
	text       TEXT NOT NULL,
	subject    TEXT NOT NULL DEFAULT '',
	message_id TEXT NOT NULL DEFAULT '',
	timestamp  INTEGER NOT NULL,
	read       INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation
	ON messages (account, jid, timestamp);
CREATE INDEX IF NOT EXISTS idx_messages_unread
	ON messages (account, jid, read);
`

// Store wraps the sqlite connection.
type Store struct {
	db  *sql.DB
	log *logger.Logger
}

// Open opens (or creates) the archive database at path and applies the
// schema. Use ":memory:" for an ephemeral archive.
func Open(path string, log *logger.Logger) (*Store, error) {
	if path == "" {
		return nil, chaterrors.ErrArchiveDisabled
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply archive schema: %w", err)
	}
	return &Store{db: db, log: log.Named("archive")}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Insert writes one message row and returns its log id, generating one when
// the record carries none.
func (s *Store) Insert(rec Record) (string, error) {
	if rec.LogID == "" {
		rec.LogID = uuid.NewString()
	}
	read := 0
	if rec.Read {
		read = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO messages
			(log_id, account, jid, resource, kind, type, text, subject, message_id, timestamp, read)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.LogID, rec.Account, rec.JID, rec.Resource, rec.Kind, rec.Type,
		rec.Text, rec.Subject, rec.MessageID, rec.Timestamp.UnixMilli(), read,
	)
	if err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}
	return rec.LogID, nil
}

// MarkRead flags every row of a conversation as read.
func (s *Store) MarkRead(account, jid string) error {
	_, err := s.db.Exec(
		`UPDATE messages SET read = 1 WHERE account = ? AND jid = ? AND read = 0`,
		account, jid,
	)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// UnreadCount returns the number of unread rows of a conversation.
func (s *Store) UnreadCount(account, jid string) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM messages WHERE account = ? AND jid = ? AND read = 0`,
		account, jid,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

// HistoryPage returns up to limit rows of a conversation strictly older
// than before, in ascending timestamp order.
func (s *Store) HistoryPage(account, jid string, before time.Time, limit int) ([]Record, error) {
	rows, err := s.db.Query(
		`SELECT log_id, account, jid, resource, kind, type, text, subject, message_id, timestamp, read
		 FROM messages
		 WHERE account = ? AND jid = ? AND timestamp < ?
		 ORDER BY timestamp DESC LIMIT ?`,
		account, jid, before.UnixMilli(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("load history page: %w", err)
	}
	defer rows.Close()

	page, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	// The query walks backwards from the anchor; callers want wall order.
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	return page, nil
}

// Search returns rows whose text contains query, newest first, optionally
// restricted to one conversation and a time range.
func (s *Store) Search(account, jid, query string, from, to *time.Time, limit int) ([]Record, error) {
	if strings.TrimSpace(query) == "" {
		return nil, chaterrors.ErrInvalidInput
	}
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT log_id, account, jid, resource, kind, type, text, subject, message_id, timestamp, read
		 FROM messages WHERE account = ? AND text LIKE ? ESCAPE '\'`
	args := []interface{}{account, "%" + escapeLike(query) + "%"}
	if jid != "" {
		q += ` AND jid = ?`
		args = append(args, jid)
	}
	if from != nil {
		q += ` AND timestamp >= ?`
		args = append(args, from.UnixMilli())
	}
	if to != nil {
		q += ` AND timestamp <= ?`
		args = append(args, to.UnixMilli())
	}
	q += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("search archive: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var rec Record
		var ts int64
		var read int
		err := rows.Scan(&rec.LogID, &rec.Account, &rec.JID, &rec.Resource,
			&rec.Kind, &rec.Type, &rec.Text, &rec.Subject, &rec.MessageID, &ts, &read)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		rec.Timestamp = time.UnixMilli(ts).UTC()
		rec.Read = read == 1
		out = append(out, rec)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}
