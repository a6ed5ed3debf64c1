package registry

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/lib/pq"
)

// PostgresStore persists profiles in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed profile store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, profile *Profile) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO profiles (wallet, username, display_name, min_bid_usd, created_at, updated_at)
		VALUES ($1, $2, $3, $4::NUMERIC(20,6), $5, $6)`,
		strings.ToLower(profile.Wallet), strings.ToLower(profile.Username),
		profile.DisplayName, profile.MinBidUsd, profile.CreatedAt, profile.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			if strings.Contains(pqErr.Constraint, "username") {
				return ErrUsernameTaken
			}
			return ErrProfileExists
		}
		return err
	}
	return nil
}

func (p *PostgresStore) GetByWallet(ctx context.Context, wallet string) (*Profile, error) {
	return p.get(ctx, `wallet = $1`, strings.ToLower(wallet))
}

func (p *PostgresStore) GetByUsername(ctx context.Context, username string) (*Profile, error) {
	return p.get(ctx, `username = $1`, strings.ToLower(username))
}

func (p *PostgresStore) get(ctx context.Context, where string, arg string) (*Profile, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT wallet, username, display_name, min_bid_usd::TEXT, created_at, updated_at
		FROM profiles WHERE `+where, arg)

	profile := &Profile{}
	var displayName sql.NullString
	err := row.Scan(&profile.Wallet, &profile.Username, &displayName,
		&profile.MinBidUsd, &profile.CreatedAt, &profile.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	profile.DisplayName = displayName.String
	return profile, nil
}

func (p *PostgresStore) Update(ctx context.Context, profile *Profile) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE profiles SET username = $1, display_name = $2,
			min_bid_usd = $3::NUMERIC(20,6), updated_at = NOW()
		WHERE wallet = $4`,
		strings.ToLower(profile.Username), profile.DisplayName,
		profile.MinBidUsd, strings.ToLower(profile.Wallet),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrUsernameTaken
		}
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrProfileNotFound
	}
	return nil
}
