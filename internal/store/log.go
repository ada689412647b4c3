package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/matheus3301/convo/internal/chat"
)

// appendLog adds evt to the log of every account in dids.
func appendLog(tx *sql.Tx, evt chat.LogEvent, dids ...string) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode log event: %w", err)
	}
	now := time.Now().UnixMilli()
	for _, did := range dids {
		if _, err := tx.Exec(`
			INSERT INTO logs (did, convo_id, type, rev, payload, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			did, evt.ConvoID, string(evt.Type), evt.Rev, string(payload), now); err != nil {
			return fmt.Errorf("append log: %w", err)
		}
	}
	return nil
}

// LogHead returns the sequence number of the newest log entry of did, or 0.
func (db *DB) LogHead(did string) (int64, error) {
	var seq int64
	err := db.QueryRow(`SELECT COALESCE(MAX(seq), 0) FROM logs WHERE did = ?`, did).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("log head: %w", err)
	}
	return seq, nil
}

// GetLog returns up to limit entries of did's log after seq, oldest first.
func (db *DB) GetLog(did string, after int64, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT seq, did, convo_id, type, rev, payload
		FROM logs
		WHERE did = ? AND seq > ?
		ORDER BY seq ASC
		LIMIT ?`, did, after, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []LogEntry
	for rows.Next() {
		var e LogEntry
		var payload string
		if err := rows.Scan(&e.Seq, &e.DID, &e.ConvoID, &e.Type, &e.Rev, &payload); err != nil {
			return nil, err
		}
		e.Payload = []byte(payload)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Event decodes the payload of e.
func (e LogEntry) Event() (chat.LogEvent, error) {
	var evt chat.LogEvent
	if err := json.Unmarshal(e.Payload, &evt); err != nil {
		return chat.LogEvent{}, fmt.Errorf("decode log %d: %w", e.Seq, err)
	}
	return evt, nil
}
