package store

import (
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/convo/internal/chat"
)

func memberKey(members []string) []string {
	sorted := slices.Clone(members)
	slices.Sort(sorted)
	return slices.Compact(sorted)
}

// GetOrCreateConvo returns the conversation between exactly these members,
// creating it (and a begin-convo log for each member) on first use.
func (db *DB) GetOrCreateConvo(members []string) (*Convo, bool, error) {
	dids := memberKey(members)
	key := strings.Join(dids, ",")

	var c *Convo
	created := false
	err := db.withTx(func(tx *sql.Tx) error {
		var id string
		err := tx.QueryRow(`SELECT id FROM convos WHERE member_key = ?`, key).Scan(&id)
		if err == nil {
			c, err = getConvo(tx, id)
			return err
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("find convo: %w", err)
		}

		rev, err := nextRev(tx)
		if err != nil {
			return err
		}
		c = &Convo{ID: uuid.NewString(), Rev: rev, Members: dids, CreatedAt: time.Now().UnixMilli()}
		if _, err := tx.Exec(`INSERT INTO convos (id, member_key, rev, created_at) VALUES (?, ?, ?, ?)`,
			c.ID, key, c.Rev, c.CreatedAt); err != nil {
			return fmt.Errorf("insert convo: %w", err)
		}
		for _, did := range dids {
			if _, err := tx.Exec(`INSERT INTO convo_members (convo_id, did) VALUES (?, ?)`, c.ID, did); err != nil {
				return fmt.Errorf("insert member: %w", err)
			}
		}
		created = true
		return appendLog(tx, chat.LogEvent{Type: chat.LogBeginConvo, Rev: rev, ConvoID: c.ID}, dids...)
	})
	if err != nil {
		return nil, false, err
	}
	return c, created, nil
}

type querier interface {
	QueryRow(query string, args ...any) *sql.Row
	Query(query string, args ...any) (*sql.Rows, error)
}

func getConvo(q querier, id string) (*Convo, error) {
	var c Convo
	err := q.QueryRow(`SELECT id, rev, created_at FROM convos WHERE id = ?`, id).Scan(&c.ID, &c.Rev, &c.CreatedAt)
	if err != nil {
		return nil, notFound(err, "get convo")
	}
	rows, err := q.Query(`SELECT did FROM convo_members WHERE convo_id = ? ORDER BY did`, id)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var did string
		if err := rows.Scan(&did); err != nil {
			return nil, err
		}
		c.Members = append(c.Members, did)
	}
	return &c, rows.Err()
}

// GetConvo returns the conversation with the given id.
func (db *DB) GetConvo(id string) (*Convo, error) {
	return getConvo(db, id)
}

// IsMember reports whether did belongs to the conversation.
func (db *DB) IsMember(convoID, did string) (bool, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM convo_members WHERE convo_id = ? AND did = ?`, convoID, did).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("is member: %w", err)
	}
	return n > 0, nil
}

// ListConvos returns did's conversations, most recently active first, using
// keyset pagination on rev.
func (db *DB) ListConvos(did, beforeRev string, limit int) ([]Convo, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeRev == "" {
		beforeRev = "g" // sorts after every hex rev
	}
	rows, err := db.Query(`
		SELECT c.id
		FROM convos c
		JOIN convo_members m ON m.convo_id = c.id
		WHERE m.did = ? AND c.rev < ?
		ORDER BY c.rev DESC
		LIMIT ?`, did, beforeRev, limit)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	convos := make([]Convo, 0, len(ids))
	for _, id := range ids {
		c, err := db.GetConvo(id)
		if err != nil {
			return nil, err
		}
		convos = append(convos, *c)
	}
	return convos, nil
}

// UnreadCount returns how many messages from others did has not read.
func (db *DB) UnreadCount(convoID, did string) (int, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*)
		FROM messages msg
		JOIN convo_members m ON m.convo_id = msg.convo_id AND m.did = ?
		WHERE msg.convo_id = ? AND msg.sender_did != ? AND msg.rev > m.last_read_rev`,
		did, convoID, did).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return n, nil
}

// MarkRead moves did's read marker in the conversation forward to rev.
func (db *DB) MarkRead(convoID, did, rev string) error {
	_, err := db.Exec(`
		UPDATE convo_members SET last_read_rev = ?
		WHERE convo_id = ? AND did = ? AND last_read_rev < ?`,
		rev, convoID, did, rev)
	return err
}
