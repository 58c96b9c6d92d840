package meeting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/hackgods/clinic-appointment-booking/internal/db"
)

// ErrNotConnected means the doctor never linked a Google calendar.
var ErrNotConnected = errors.New("meeting: doctor has no connected calendar")

// TokenStore keeps one OAuth token per doctor.
type TokenStore interface {
	Token(ctx context.Context, doctorID uuid.UUID) (*oauth2.Token, error)
	SaveToken(ctx context.Context, doctorID uuid.UUID, tok *oauth2.Token) error
}

// PgTokenStore stores tokens in calendar_tokens. It always runs on the pool.
// Bookings load the token through GoogleCalendar.PrepareMeeting before their
// transaction opens, so a booking never holds two connections at once.
type PgTokenStore struct {
	pool db.Querier
}

func NewPgTokenStore(pool db.Querier) *PgTokenStore {
	return &PgTokenStore{pool: pool}
}

func (s *PgTokenStore) Token(ctx context.Context, doctorID uuid.UUID) (*oauth2.Token, error) {
	var (
		tok    oauth2.Token
		expiry *time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT access_token, refresh_token, token_type, expiry
		FROM calendar_tokens
		WHERE doctor_id = $1
	`, doctorID).Scan(&tok.AccessToken, &tok.RefreshToken, &tok.TokenType, &expiry)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotConnected
		}
		return nil, fmt.Errorf("load calendar token: %w", err)
	}
	if expiry != nil {
		tok.Expiry = *expiry
	}
	return &tok, nil
}

func (s *PgTokenStore) SaveToken(ctx context.Context, doctorID uuid.UUID, tok *oauth2.Token) error {
	var expiry *time.Time
	if !tok.Expiry.IsZero() {
		expiry = &tok.Expiry
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO calendar_tokens (doctor_id, access_token, refresh_token, token_type, expiry, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (doctor_id) DO UPDATE
		SET access_token = EXCLUDED.access_token,
		    refresh_token = COALESCE(NULLIF(EXCLUDED.refresh_token, ''), calendar_tokens.refresh_token),
		    token_type = EXCLUDED.token_type,
		    expiry = EXCLUDED.expiry,
		    updated_at = now()
	`, doctorID, tok.AccessToken, tok.RefreshToken, tok.TokenType, expiry)
	if err != nil {
		return fmt.Errorf("save calendar token: %w", err)
	}
	return nil
}

// MemoryTokenStore backs the memory deployment.
type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens map[uuid.UUID]oauth2.Token
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[uuid.UUID]oauth2.Token)}
}

func (s *MemoryTokenStore) Token(_ context.Context, doctorID uuid.UUID) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[doctorID]
	if !ok {
		return nil, ErrNotConnected
	}
	return &tok, nil
}

func (s *MemoryTokenStore) SaveToken(_ context.Context, doctorID uuid.UUID, tok *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := *tok
	if next.RefreshToken == "" {
		next.RefreshToken = s.tokens[doctorID].RefreshToken
	}
	s.tokens[doctorID] = next
	return nil
}

// persistingSource saves every token the refresher hands out that differs
// from the last one seen. A failed save is logged; the token is still used.
type persistingSource struct {
	base     oauth2.TokenSource
	store    TokenStore
	doctorID uuid.UUID
	logger   zerolog.Logger

	mu   sync.Mutex
	last string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken == p.last {
		return tok, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.store.SaveToken(ctx, p.doctorID, tok); err != nil {
		p.logger.Warn().Err(err).Str("doctor_id", p.doctorID.String()).Msg("refreshed calendar token not saved")
		return tok, nil
	}
	p.last = tok.AccessToken
	return tok, nil
}
