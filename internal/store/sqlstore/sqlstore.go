// Package sqlstore persists offline mailboxes in SQLite so undelivered
// messages survive a restart. Same contract as the in-memory store.
package sqlstore

import (
	"database/sql"
	"strings"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/pipiwolve/chiikawa-chat/internal/envelope"
)

type SQLStore struct {
	db *sql.DB
}

func New(dataSourceName string) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		return nil, err
	}

	s := &SQLStore{db: db}
	if err := s.createTables(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS mailbox (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		identity TEXT NOT NULL,
		msg_id TEXT NOT NULL,
		cmd INTEGER NOT NULL,
		msg_type TEXT,
		sender TEXT,
		recipient TEXT,
		nickname TEXT,
		body TEXT,
		ts INTEGER,
		read BOOLEAN DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_mailbox_identity ON mailbox(identity);
	CREATE INDEX IF NOT EXISTS idx_mailbox_msg_id ON mailbox(identity, msg_id);
	`
	_, err := s.db.Exec(query)
	return err
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Append(identity string, env *envelope.Message) error {
	query := `INSERT INTO mailbox (identity, msg_id, cmd, msg_type, sender, recipient, nickname, body, ts, read)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.Exec(query, identity, env.MsgID, env.Cmd, env.Type,
		env.From, env.To, env.Nickname, env.Body, env.Timestamp, env.Read)
	return err
}

func (s *SQLStore) Drain(identity string) ([]*envelope.Message, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.Query(`
		SELECT msg_id, cmd, msg_type, sender, recipient, nickname, body, ts, read
		FROM mailbox WHERE identity = ? ORDER BY id ASC`, identity)
	if err != nil {
		return nil, err
	}

	msgs := []*envelope.Message{}
	for rows.Next() {
		env, err := scanMessage(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		msgs = append(msgs, env)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.Exec("DELETE FROM mailbox WHERE identity = ?", identity); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *SQLStore) RemoveOne(identity, msgID string) error {
	// Single match only; a client-supplied duplicate id acks one entry.
	query := `DELETE FROM mailbox WHERE id IN (
		SELECT id FROM mailbox WHERE identity = ? AND msg_id = ? ORDER BY id ASC LIMIT 1)`
	_, err := s.db.Exec(query, identity, msgID)
	return err
}

func (s *SQLStore) MarkRead(identity string, msgIDs []string) ([]string, error) {
	if len(msgIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(msgIDs))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]interface{}, 0, len(msgIDs)+1)
	args = append(args, identity)
	for _, id := range msgIDs {
		args = append(args, id)
	}

	rows, err := s.db.Query(
		"SELECT DISTINCT msg_id FROM mailbox WHERE identity = ? AND msg_id IN ("+placeholders+")",
		args...)
	if err != nil {
		return nil, err
	}
	var found []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		found = append(found, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(found) > 0 {
		_, err = s.db.Exec(
			"UPDATE mailbox SET read = TRUE WHERE identity = ? AND msg_id IN ("+placeholders+")",
			args...)
		if err != nil {
			return nil, err
		}
	}
	return found, nil
}

func (s *SQLStore) Count(identity string) (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM mailbox WHERE identity = ?", identity).Scan(&n)
	return n, err
}

func scanMessage(rows *sql.Rows) (*envelope.Message, error) {
	var env envelope.Message
	err := rows.Scan(&env.MsgID, &env.Cmd, &env.Type, &env.From, &env.To,
		&env.Nickname, &env.Body, &env.Timestamp, &env.Read)
	if err != nil {
		return nil, err
	}
	return &env, nil
}
