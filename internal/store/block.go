package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/matheus3301/convo/internal/chat"
)

// Block records that blocker blocks blocked and tells both accounts to
// refresh their block state.
func (db *DB) Block(blocker, blocked string) error {
	return db.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO blocks (blocker_did, blocked_did, created_at) VALUES (?, ?, ?)`,
			blocker, blocked, time.Now().UnixMilli()); err != nil {
			return fmt.Errorf("insert block: %w", err)
		}
		return invalidateBlockState(tx, blocker, blocked)
	})
}

// Unblock removes a block, if any, and tells both accounts to refresh.
func (db *DB) Unblock(blocker, blocked string) error {
	return db.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM blocks WHERE blocker_did = ? AND blocked_did = ?`,
			blocker, blocked); err != nil {
			return fmt.Errorf("delete block: %w", err)
		}
		return invalidateBlockState(tx, blocker, blocked)
	})
}

func invalidateBlockState(tx *sql.Tx, a, b string) error {
	rev, err := nextRev(tx)
	if err != nil {
		return err
	}
	return appendLog(tx, chat.LogEvent{
		Type:        chat.LogInvalidateBlockState,
		Rev:         rev,
		AccountDIDs: []string{a, b},
	}, a, b)
}

// BlockState returns whether viewer blocks other and whether other blocks viewer.
func (db *DB) BlockState(viewer, other string) (blocking, blockedBy bool, err error) {
	err = db.QueryRow(`
		SELECT
			EXISTS(SELECT 1 FROM blocks WHERE blocker_did = ? AND blocked_did = ?),
			EXISTS(SELECT 1 FROM blocks WHERE blocker_did = ? AND blocked_did = ?)`,
		viewer, other, other, viewer).Scan(&blocking, &blockedBy)
	if err != nil {
		return false, false, fmt.Errorf("block state: %w", err)
	}
	return blocking, blockedBy, nil
}
