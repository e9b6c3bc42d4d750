// Package store persists call records and per-call transcripts in Postgres.
// The live pipeline never blocks on it beyond the initial call row lookup;
// writes happen off the audio path.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Call is one inbound phone call.
type Call struct {
	ID             string     `json:"id,omitempty"`
	Provider       string     `json:"provider"`
	ProviderCallID string     `json:"provider_call_id"`
	FromNumber     string     `json:"from_number"`
	ToNumber       string     `json:"to_number"`
	Status         string     `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
}

// Utterance is one transcript line, caller or assistant.
type Utterance struct {
	Speaker   string     `json:"speaker"` // "caller" or "assistant"
	Text      string     `json:"text"`
	Sequence  int        `json:"sequence"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// CallDetail is a call plus its transcript.
type CallDetail struct {
	Call
	Utterances []Utterance `json:"utterances"`
}

func (s *Store) UpsertCall(ctx context.Context, c Call) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO calls (id, provider, provider_call_id, from_number, to_number, status, started_at)
		VALUES (gen_random_uuid(), $1,$2,$3,$4,$5,$6)
		ON CONFLICT (provider, provider_call_id) DO UPDATE SET
			from_number = EXCLUDED.from_number,
			to_number = EXCLUDED.to_number,
			status = EXCLUDED.status
	`, c.Provider, c.ProviderCallID, c.FromNumber, c.ToNumber, c.Status, c.StartedAt)
	return err
}

func (s *Store) UpdateCallStatus(ctx context.Context, providerCallID string, status string, at time.Time) error {
	var endedAt *time.Time
	if status == "completed" || status == "canceled" || status == "failed" || status == "busy" || status == "no-answer" {
		endedAt = &at
	}
	_, err := s.db.Exec(ctx, `
		UPDATE calls
		SET status = $1,
		    ended_at = COALESCE($2, ended_at)
		WHERE provider='twilio' AND provider_call_id=$3
	`, status, endedAt, providerCallID)
	return err
}

// GetCallID retrieves the internal call ID for a provider call ID.
func (s *Store) GetCallID(ctx context.Context, providerCallID string) (string, error) {
	var callID string
	err := s.db.QueryRow(ctx, `
		SELECT id FROM calls WHERE provider='twilio' AND provider_call_id=$1
	`, providerCallID).Scan(&callID)
	return callID, err
}

// InsertUtterance inserts a new transcript line for a call.
func (s *Store) InsertUtterance(ctx context.Context, callID string, u Utterance) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO call_utterances (id, call_id, speaker, text, sequence, started_at, ended_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6)
	`, callID, u.Speaker, u.Text, u.Sequence, u.StartedAt, u.EndedAt)
	return err
}

func (s *Store) ListCalls(ctx context.Context, limit int) ([]Call, error) {
	rows, err := s.db.Query(ctx, `
		SELECT provider, provider_call_id, from_number, to_number, status, started_at, ended_at
		FROM calls
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Call
	for rows.Next() {
		var c Call
		if err := rows.Scan(&c.Provider, &c.ProviderCallID, &c.FromNumber, &c.ToNumber, &c.Status, &c.StartedAt, &c.EndedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetCallDetail(ctx context.Context, providerCallID string) (CallDetail, error) {
	var out CallDetail
	err := s.db.QueryRow(ctx, `
		SELECT id, provider, provider_call_id, from_number, to_number, status, started_at, ended_at
		FROM calls WHERE provider='twilio' AND provider_call_id=$1
	`, providerCallID).Scan(&out.ID, &out.Provider, &out.ProviderCallID, &out.FromNumber, &out.ToNumber, &out.Status, &out.StartedAt, &out.EndedAt)
	if err != nil {
		return out, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT speaker, text, sequence, started_at, ended_at
		FROM call_utterances
		WHERE call_id = $1
		ORDER BY sequence ASC
	`, out.ID)
	if err != nil {
		return out, err
	}
	defer rows.Close()

	for rows.Next() {
		var u Utterance
		if err := rows.Scan(&u.Speaker, &u.Text, &u.Sequence, &u.StartedAt, &u.EndedAt); err != nil {
			return out, err
		}
		out.Utterances = append(out.Utterances, u)
	}
	return out, rows.Err()
}
