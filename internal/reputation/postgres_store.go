package reputation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists reputation data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed reputation store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) AppendEvent(ctx context.Context, ev *Event) error {
	metadata, _ := json.Marshal(ev.Metadata)
	if ev.Metadata == nil {
		metadata = []byte("{}")
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO reputation_events (id, wallet, event_type, direction, message_id, occurred_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ID, ev.Wallet, string(ev.Type), string(ev.Direction),
		nullString(ev.MessageID), ev.OccurredAt, metadata,
	)
	return err
}

func (p *PostgresStore) ListEvents(ctx context.Context, wallet string, since time.Time) ([]*Event, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, wallet, event_type, direction, message_id, occurred_at, metadata
		FROM reputation_events
		WHERE wallet = $1 AND occurred_at >= $2
		ORDER BY occurred_at ASC`, wallet, since)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Event
	for rows.Next() {
		ev := &Event{}
		var (
			eventType string
			direction string
			messageID sql.NullString
			metadata  []byte
		)
		if err := rows.Scan(&ev.ID, &ev.Wallet, &eventType, &direction,
			&messageID, &ev.OccurredAt, &metadata); err != nil {
			return nil, err
		}
		ev.Type = EventType(eventType)
		ev.Direction = Direction(direction)
		ev.MessageID = messageID.String
		if len(metadata) > 0 {
			_ = json.Unmarshal(metadata, &ev.Metadata)
		}
		result = append(result, ev)
	}
	return result, rows.Err()
}

func (p *PostgresStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO reputation_snapshots (
			wallet, sender_score, recipient_score, open_rate, reply_rate,
			refund_rate, block_rate, vouch_count, total_sent, total_received, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (wallet) DO UPDATE SET
			sender_score = EXCLUDED.sender_score,
			recipient_score = EXCLUDED.recipient_score,
			open_rate = EXCLUDED.open_rate,
			reply_rate = EXCLUDED.reply_rate,
			refund_rate = EXCLUDED.refund_rate,
			block_rate = EXCLUDED.block_rate,
			vouch_count = EXCLUDED.vouch_count,
			total_sent = EXCLUDED.total_sent,
			total_received = EXCLUDED.total_received,
			updated_at = EXCLUDED.updated_at`,
		snap.Wallet, snap.SenderScore, snap.RecipientScore, snap.OpenRate, snap.ReplyRate,
		snap.RefundRate, snap.BlockRate, snap.VouchCount, snap.TotalSent, snap.TotalReceived,
		snap.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) GetSnapshot(ctx context.Context, wallet string) (*Snapshot, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT wallet, sender_score, recipient_score, open_rate, reply_rate,
		       refund_rate, block_rate, vouch_count, total_sent, total_received, updated_at
		FROM reputation_snapshots WHERE wallet = $1`, wallet)

	snap := &Snapshot{}
	err := row.Scan(&snap.Wallet, &snap.SenderScore, &snap.RecipientScore,
		&snap.OpenRate, &snap.ReplyRate, &snap.RefundRate, &snap.BlockRate,
		&snap.VouchCount, &snap.TotalSent, &snap.TotalReceived, &snap.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (p *PostgresStore) CreateVouch(ctx context.Context, v *Vouch) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO vouches (voucher, vouchee, weight, created_at)
		VALUES ($1, $2, $3, $4)`,
		v.Voucher, v.Vouchee, v.Weight, v.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateVouch
		}
		return err
	}
	return nil
}

func (p *PostgresStore) ListVouchesFor(ctx context.Context, vouchee string) ([]*Vouch, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT voucher, vouchee, weight, created_at
		FROM vouches WHERE vouchee = $1`, vouchee)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Vouch
	for rows.Next() {
		v := &Vouch{}
		if err := rows.Scan(&v.Voucher, &v.Vouchee, &v.Weight, &v.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

func (p *PostgresStore) CountVouchesBy(ctx context.Context, voucher string, since time.Time) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM vouches WHERE voucher = $1 AND created_at >= $2`,
		voucher, since).Scan(&count)
	return count, err
}

func (p *PostgresStore) CreateBlock(ctx context.Context, b *Block) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO blocks (blocker, blocked, reason, created_at)
		VALUES ($1, $2, $3, $4)`,
		b.Blocker, b.Blocked, nullString(b.Reason), b.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateBlock
		}
		return err
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
