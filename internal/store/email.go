package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidToken is returned when an email token is wrong or expired.
var ErrInvalidToken = errors.New("invalid token")

// PutEmailToken stores the confirmation token for (did, email), replacing
// any earlier one.
func (db *DB) PutEmailToken(did, email, token string, expiresAt time.Time) error {
	_, err := db.Exec(`
		INSERT INTO email_tokens (did, email, token, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(did, email) DO UPDATE SET
			token = excluded.token,
			expires_at = excluded.expires_at`,
		did, email, token, expiresAt.UnixMilli())
	return err
}

// ConfirmEmail checks token and marks email confirmed on the account. The
// token is consumed.
func (db *DB) ConfirmEmail(did, email, token string, now time.Time) error {
	return db.withTx(func(tx *sql.Tx) error {
		var stored string
		var expiresAt int64
		err := tx.QueryRow(`SELECT token, expires_at FROM email_tokens WHERE did = ? AND email = ?`,
			did, email).Scan(&stored, &expiresAt)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrInvalidToken
		}
		if err != nil {
			return fmt.Errorf("get email token: %w", err)
		}
		if stored != token || now.UnixMilli() > expiresAt {
			return ErrInvalidToken
		}
		if _, err := tx.Exec(`DELETE FROM email_tokens WHERE did = ? AND email = ?`, did, email); err != nil {
			return fmt.Errorf("consume email token: %w", err)
		}
		if _, err := tx.Exec(`UPDATE accounts SET email = ?, email_confirmed = 1 WHERE did = ?`, email, did); err != nil {
			return fmt.Errorf("confirm email: %w", err)
		}
		return nil
	})
}
