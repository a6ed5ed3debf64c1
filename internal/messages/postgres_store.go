package messages

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/mbd888/bidbox/internal/pagination"
)

// PostgresStore persists messages and escrow records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed message store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateEscrow(ctx context.Context, msg *Message, auth *PaymentAuthorization) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (
			id, sender_addr, sender_name, recipient_addr, content,
			bid_usd, reply_bounty_usd, status, sent_at, expires_at,
			refund_reason, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6::NUMERIC(20,6), $7, $8, $9, $10,
			$11, $12
		)`,
		msg.ID, msg.SenderAddr, nullString(msg.SenderName), msg.RecipientAddr, msg.Content,
		msg.BidUsd, nullString(msg.ReplyBountyUsd), string(msg.Status), msg.SentAt, msg.ExpiresAt,
		nullString(msg.RefundReason), msg.UpdatedAt,
	)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payment_authorizations (
			message_id, chain_id, token_address, amount_units, amount_usd,
			sender_addr, recipient_addr, nonce, sig_v, sig_r, sig_s,
			valid_after, valid_before, status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16
		)`,
		auth.MessageID, auth.ChainID, auth.TokenAddress, auth.AmountUnits, auth.AmountUsd,
		auth.SenderAddr, auth.RecipientAddr, auth.Nonce, int16(auth.V), auth.R, auth.S,
		auth.ValidAfter, auth.ValidBefore, string(auth.Status), auth.CreatedAt, auth.UpdatedAt,
	)
	if err != nil {
		// The unique index on nonce is the replay guard.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrNonceReplayed
		}
		return err
	}

	return tx.Commit()
}

const messageColumns = `id, sender_addr, sender_name, recipient_addr, content,
		       bid_usd, reply_bounty_usd, status, sent_at, expires_at,
		       opened_at, replied_at, accepted_at, declined_at, refunded_at,
		       refund_reason, updated_at`

func (p *PostgresStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)

	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrMessageNotFound
	}
	return msg, err
}

func (p *PostgresStore) GetAuthorization(ctx context.Context, messageID string) (*PaymentAuthorization, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT message_id, chain_id, token_address, amount_units, amount_usd,
		       sender_addr, recipient_addr, nonce, sig_v, sig_r, sig_s,
		       valid_after, valid_before, status, settlement_tx_hash, refund_tx_hash,
		       created_at, updated_at
		FROM payment_authorizations WHERE message_id = $1`, messageID)

	a := &PaymentAuthorization{}
	var (
		v            int16
		status       string
		settlementTx sql.NullString
		refundTx     sql.NullString
	)
	err := row.Scan(
		&a.MessageID, &a.ChainID, &a.TokenAddress, &a.AmountUnits, &a.AmountUsd,
		&a.SenderAddr, &a.RecipientAddr, &a.Nonce, &v, &a.R, &a.S,
		&a.ValidAfter, &a.ValidBefore, &status, &settlementTx, &refundTx,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrAuthNotFound
	}
	if err != nil {
		return nil, err
	}
	a.V = uint8(v)
	a.Status = AuthStatus(status)
	a.SettlementTxHash = settlementTx.String
	a.RefundTxHash = refundTx.String
	return a, nil
}

func (p *PostgresStore) Transition(ctx context.Context, from Status, msg *Message, auth *PaymentAuthorization) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE messages SET
			status = $1, opened_at = $2, replied_at = $3, accepted_at = $4,
			declined_at = $5, refunded_at = $6, refund_reason = $7, updated_at = $8
		WHERE id = $9 AND status = $10`,
		string(msg.Status), nullTime(msg.OpenedAt), nullTime(msg.RepliedAt), nullTime(msg.AcceptedAt),
		nullTime(msg.DeclinedAt), nullTime(msg.RefundedAt), nullString(msg.RefundReason), msg.UpdatedAt,
		msg.ID, string(from),
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Distinguish missing from already-transitioned.
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1)`, msg.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrMessageNotFound
		}
		return ErrStateConflict
	}

	if auth != nil {
		_, err = tx.ExecContext(ctx, `
			UPDATE payment_authorizations SET
				status = $1, settlement_tx_hash = $2, refund_tx_hash = $3, updated_at = $4
			WHERE message_id = $5`,
			string(auth.Status), nullString(auth.SettlementTxHash), nullString(auth.RefundTxHash),
			auth.UpdatedAt, auth.MessageID,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (p *PostgresStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]*Message, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE status = 'pending'
		  AND opened_at IS NULL
		  AND expires_at < $1
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanMessages(rows)
}

func (p *PostgresStore) ListByWallet(ctx context.Context, wallet string, before *pagination.Cursor, limit int) ([]*Message, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if before != nil {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+messageColumns+`
			FROM messages
			WHERE (sender_addr = $1 OR recipient_addr = $1)
			  AND (sent_at, id) < ($2, $3)
			ORDER BY sent_at DESC, id DESC
			LIMIT $4`, wallet, before.CreatedAt, before.ID, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+messageColumns+`
			FROM messages
			WHERE sender_addr = $1 OR recipient_addr = $1
			ORDER BY sent_at DESC, id DESC
			LIMIT $2`, wallet, limit)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanMessages(rows)
}

func (p *PostgresStore) ListPendingBids(ctx context.Context, recipient string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT bid_usd::TEXT FROM messages
		WHERE recipient_addr = $1 AND status = 'pending'`, recipient)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanBids(rows)
}

func (p *PostgresStore) ListRecentAccepted(ctx context.Context, recipient string, limit int) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT bid_usd::TEXT FROM messages
		WHERE recipient_addr = $1 AND status IN ('accepted', 'replied')
		ORDER BY accepted_at DESC NULLS LAST
		LIMIT $2`, recipient, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanBids(rows)
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(s scanner) (*Message, error) {
	msg := &Message{}
	var (
		senderName   sql.NullString
		replyBounty  sql.NullString
		status       string
		openedAt     sql.NullTime
		repliedAt    sql.NullTime
		acceptedAt   sql.NullTime
		declinedAt   sql.NullTime
		refundedAt   sql.NullTime
		refundReason sql.NullString
	)

	err := s.Scan(
		&msg.ID, &msg.SenderAddr, &senderName, &msg.RecipientAddr, &msg.Content,
		&msg.BidUsd, &replyBounty, &status, &msg.SentAt, &msg.ExpiresAt,
		&openedAt, &repliedAt, &acceptedAt, &declinedAt, &refundedAt,
		&refundReason, &msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	msg.Status = Status(status)
	msg.SenderName = senderName.String
	msg.ReplyBountyUsd = replyBounty.String
	msg.RefundReason = refundReason.String
	if openedAt.Valid {
		msg.OpenedAt = &openedAt.Time
	}
	if repliedAt.Valid {
		msg.RepliedAt = &repliedAt.Time
	}
	if acceptedAt.Valid {
		msg.AcceptedAt = &acceptedAt.Time
	}
	if declinedAt.Valid {
		msg.DeclinedAt = &declinedAt.Time
	}
	if refundedAt.Valid {
		msg.RefundedAt = &refundedAt.Time
	}

	return msg, nil
}

func scanMessages(rows *sql.Rows) ([]*Message, error) {
	var result []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}

func scanBids(rows *sql.Rows) ([]string, error) {
	var bids []string
	for rows.Next() {
		var bid string
		if err := rows.Scan(&bid); err != nil {
			return nil, err
		}
		bids = append(bids, bid)
	}
	return bids, rows.Err()
}

// nullString converts an empty Go string to sql.NullString.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullTime converts a nil *time.Time to sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
