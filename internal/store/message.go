package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/convo/internal/chat"
)

// View returns m as the wire-neutral message, or its tombstone when deleted.
func (m Message) View() chat.Entry {
	sent := time.UnixMilli(m.SentAt).UTC()
	if m.Deleted {
		return chat.DeletedMessageView{ID: m.ID, Rev: m.Rev, Sender: chat.MessageSender{DID: m.SenderDID}, SentAt: sent}
	}
	return chat.MessageView{
		ID:          m.ID,
		Rev:         m.Rev,
		Text:        m.Text,
		Sender:      chat.MessageSender{DID: m.SenderDID},
		SentAt:      sent,
		ClientMsgID: m.ClientMsgID,
	}
}

const messageColumns = `id, convo_id, rev, sender_did, text, COALESCE(client_msg_id, ''), sent_at`

// InsertMessage commits a message, idempotent on (convo, sender,
// ClientMsgID): a repeated send returns the message committed first with
// created=false. New messages get a rev, bump the conversation and append a
// create-message log to every member.
func (db *DB) InsertMessage(convoID, senderDID, text, clientMsgID string) (*Message, bool, error) {
	var m *Message
	created := false
	err := db.withTx(func(tx *sql.Tx) error {
		if clientMsgID != "" {
			var existing Message
			err := tx.QueryRow(`SELECT `+messageColumns+` FROM messages
				WHERE convo_id = ? AND sender_did = ? AND client_msg_id = ?`,
				convoID, senderDID, clientMsgID).Scan(
				&existing.ID, &existing.ConvoID, &existing.Rev, &existing.SenderDID,
				&existing.Text, &existing.ClientMsgID, &existing.SentAt)
			if err == nil {
				m = &existing
				return nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("find message: %w", err)
			}
		}

		rev, err := nextRev(tx)
		if err != nil {
			return err
		}
		m = &Message{
			ID:          uuid.NewString(),
			ConvoID:     convoID,
			Rev:         rev,
			SenderDID:   senderDID,
			Text:        text,
			ClientMsgID: clientMsgID,
			SentAt:      time.Now().UnixMilli(),
		}
		if _, err := tx.Exec(`
			INSERT INTO messages (id, convo_id, rev, sender_did, text, client_msg_id, sent_at)
			VALUES (?, ?, ?, ?, ?, NULLIF(?, ''), ?)`,
			m.ID, m.ConvoID, m.Rev, m.SenderDID, m.Text, m.ClientMsgID, m.SentAt); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		if _, err := tx.Exec(`UPDATE convos SET rev = ? WHERE id = ?`, rev, convoID); err != nil {
			return fmt.Errorf("bump convo: %w", err)
		}
		// The sender has read everything up to their own message.
		if _, err := tx.Exec(`UPDATE convo_members SET last_read_rev = ? WHERE convo_id = ? AND did = ?`,
			rev, convoID, senderDID); err != nil {
			return fmt.Errorf("mark read: %w", err)
		}

		members, err := memberDIDs(tx, convoID)
		if err != nil {
			return err
		}
		view := m.View().(chat.MessageView)
		created = true
		return appendLog(tx, chat.LogEvent{
			Type:    chat.LogCreateMessage,
			Rev:     rev,
			ConvoID: convoID,
			Message: &view,
		}, members...)
	})
	if err != nil {
		return nil, false, err
	}
	return m, created, nil
}

func memberDIDs(tx *sql.Tx, convoID string) ([]string, error) {
	rows, err := tx.Query(`SELECT did FROM convo_members WHERE convo_id = ? ORDER BY did`, convoID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var dids []string
	for rows.Next() {
		var did string
		if err := rows.Scan(&did); err != nil {
			return nil, err
		}
		dids = append(dids, did)
	}
	return dids, rows.Err()
}

// GetMessage returns a message as seen by viewer.
func (db *DB) GetMessage(id, viewer string) (*Message, error) {
	var m Message
	err := db.QueryRow(`
		SELECT `+messageColumns+`, d.did IS NOT NULL
		FROM messages
		LEFT JOIN message_deletions d ON d.message_id = messages.id AND d.did = ?
		WHERE id = ?`, viewer, id).Scan(
		&m.ID, &m.ConvoID, &m.Rev, &m.SenderDID, &m.Text, &m.ClientMsgID, &m.SentAt, &m.Deleted)
	if err != nil {
		return nil, notFound(err, "get message")
	}
	return &m, nil
}

// ListMessages returns messages of a conversation as seen by viewer, newest
// first, using keyset pagination on rev.
func (db *DB) ListMessages(convoID, viewer, beforeRev string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeRev == "" {
		beforeRev = "g" // sorts after every hex rev
	}
	rows, err := db.Query(`
		SELECT `+messageColumns+`, d.did IS NOT NULL
		FROM messages
		LEFT JOIN message_deletions d ON d.message_id = messages.id AND d.did = ?
		WHERE convo_id = ? AND rev < ?
		ORDER BY rev DESC
		LIMIT ?`, viewer, convoID, beforeRev, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConvoID, &m.Rev, &m.SenderDID, &m.Text, &m.ClientMsgID, &m.SentAt, &m.Deleted); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// DeleteMessageForSelf hides a message from did only and appends a
// delete-message log to did. Deleting twice is a no-op.
func (db *DB) DeleteMessageForSelf(did, messageID string) (*Message, error) {
	var m *Message
	err := db.withTx(func(tx *sql.Tx) error {
		var msg Message
		err := tx.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE id = ?`, messageID).Scan(
			&msg.ID, &msg.ConvoID, &msg.Rev, &msg.SenderDID, &msg.Text, &msg.ClientMsgID, &msg.SentAt)
		if err != nil {
			return notFound(err, "get message")
		}
		msg.Deleted = true
		m = &msg

		res, err := tx.Exec(`INSERT OR IGNORE INTO message_deletions (message_id, did, deleted_at) VALUES (?, ?, ?)`,
			messageID, did, time.Now().UnixMilli())
		if err != nil {
			return fmt.Errorf("delete message: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}

		rev, err := nextRev(tx)
		if err != nil {
			return err
		}
		tomb := msg.View().(chat.DeletedMessageView)
		return appendLog(tx, chat.LogEvent{
			Type:    chat.LogDeleteMessage,
			Rev:     rev,
			ConvoID: msg.ConvoID,
			Deleted: &tomb,
		}, did)
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}
