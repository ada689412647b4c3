package store

import (
	"database/sql"
	"fmt"
	"time"
)

// CreateAccount inserts a new account. A taken handle yields ErrConflict.
func (db *DB) CreateAccount(a *Account) error {
	a.CreatedAt = time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO accounts (did, handle, display_name, email, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		a.DID, a.Handle, a.DisplayName, a.Email, a.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("handle %q: %w", a.Handle, ErrConflict)
	}
	return err
}

const accountColumns = `did, handle, display_name, email, email_confirmed, created_at`

func scanAccount(row *sql.Row) (*Account, error) {
	var a Account
	if err := row.Scan(&a.DID, &a.Handle, &a.DisplayName, &a.Email, &a.EmailConfirmed, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAccount returns the account with the given DID.
func (db *DB) GetAccount(did string) (*Account, error) {
	a, err := scanAccount(db.QueryRow(`SELECT `+accountColumns+` FROM accounts WHERE did = ?`, did))
	if err != nil {
		return nil, notFound(err, "get account")
	}
	return a, nil
}

// GetAccountByHandle returns the account registered under handle.
func (db *DB) GetAccountByHandle(handle string) (*Account, error) {
	a, err := scanAccount(db.QueryRow(`SELECT `+accountColumns+` FROM accounts WHERE handle = ?`, handle))
	if err != nil {
		return nil, notFound(err, "get account by handle")
	}
	return a, nil
}
