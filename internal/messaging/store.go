package messaging

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// MessageRecord is one line of a conversation transcript.
type MessageRecord struct {
	ID                uuid.UUID `json:"id"`
	Address           string    `json:"address"`
	Channel           string    `json:"channel"`
	Direction         string    `json:"direction"`
	Body              string    `json:"body"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// Store persists the message transcript in Postgres.
type Store struct {
	pool querier
}

func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("messaging: pgx pool required")
	}
	return &Store{pool: pool}
}

func newStoreWithQuerier(q querier) *Store {
	return &Store{pool: q}
}

// InsertMessage appends a record to the transcript and returns its id.
func (s *Store) InsertMessage(ctx context.Context, rec MessageRecord) (uuid.UUID, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Channel == "" {
		rec.Channel = Channel(rec.Address)
	}
	query := `
		INSERT INTO messages (id, address, channel, direction, body, provider_message_id)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
	`
	if _, err := s.pool.Exec(ctx, query, rec.ID, rec.Address, rec.Channel, rec.Direction, rec.Body, rec.ProviderMessageID); err != nil {
		return uuid.Nil, fmt.Errorf("messaging: insert message: %w", err)
	}
	return rec.ID, nil
}

// RecentMessages returns the newest messages for an address, oldest first.
func (s *Store) RecentMessages(ctx context.Context, address string, limit int) ([]MessageRecord, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, nil
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `
		SELECT id, address, channel, direction, body, COALESCE(provider_message_id, ''), created_at
		FROM (
			SELECT * FROM messages
			WHERE address = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC
	`
	rows, err := s.pool.Query(ctx, query, address, limit)
	if err != nil {
		return nil, fmt.Errorf("messaging: recent messages: %w", err)
	}
	defer rows.Close()

	var out []MessageRecord
	for rows.Next() {
		var rec MessageRecord
		if err := rows.Scan(&rec.ID, &rec.Address, &rec.Channel, &rec.Direction, &rec.Body, &rec.ProviderMessageID, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("messaging: scan message: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("messaging: recent messages: %w", err)
	}
	return out, nil
}
