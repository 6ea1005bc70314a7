package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresProfileRepository implements ProfileRepository using pgx.
type PostgresProfileRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresProfileRepository creates a new profile repository.
func NewPostgresProfileRepository(pool *pgxpool.Pool) *PostgresProfileRepository {
	return &PostgresProfileRepository{pool: pool}
}

func (r *PostgresProfileRepository) GetOrCreateProfile(ctx context.Context, userID, phoneNumber, pointOfSaleID string) (*UserProfile, error) {
	p, err := r.GetProfile(ctx, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	p = NewUserProfile(userID, phoneNumber, pointOfSaleID, time.Now().UTC())
	interactions, preferences, business, err := marshalProfileParts(p)
	if err != nil {
		return nil, err
	}

	// A concurrent insert for the same user wins; re-read to return the stored row.
	_, err = r.pool.Exec(ctx,
		`INSERT INTO user_profiles (user_id, phone_number, preferred_language, time_zone, interactions, preferences, business)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id) DO NOTHING`,
		p.UserID, p.PhoneNumber, p.PreferredLanguage, p.TimeZone, interactions, preferences, business,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting profile: %w", err)
	}
	return r.GetProfile(ctx, userID)
}

func (r *PostgresProfileRepository) GetProfile(ctx context.Context, userID string) (*UserProfile, error) {
	var p UserProfile
	var interactions, preferences, business []byte
	err := r.pool.QueryRow(ctx,
		`SELECT user_id, phone_number, preferred_language, time_zone, interactions, preferences, business
		 FROM user_profiles
		 WHERE user_id = $1`,
		userID,
	).Scan(&p.UserID, &p.PhoneNumber, &p.PreferredLanguage, &p.TimeZone, &interactions, &preferences, &business)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting profile: %w", err)
	}

	if err := json.Unmarshal(interactions, &p.Interactions); err != nil {
		return nil, fmt.Errorf("decoding interactions: %w", err)
	}
	if err := json.Unmarshal(preferences, &p.Preferences); err != nil {
		return nil, fmt.Errorf("decoding preferences: %w", err)
	}
	if err := json.Unmarshal(business, &p.Business); err != nil {
		return nil, fmt.Errorf("decoding business context: %w", err)
	}
	return &p, nil
}

func (r *PostgresProfileRepository) SaveProfile(ctx context.Context, p *UserProfile) error {
	interactions, preferences, business, err := marshalProfileParts(p)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO user_profiles (user_id, phone_number, preferred_language, time_zone, interactions, preferences, business)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id) DO UPDATE SET
		   phone_number = EXCLUDED.phone_number,
		   preferred_language = EXCLUDED.preferred_language,
		   time_zone = EXCLUDED.time_zone,
		   interactions = EXCLUDED.interactions,
		   preferences = EXCLUDED.preferences,
		   business = EXCLUDED.business,
		   updated_at = NOW()`,
		p.UserID, p.PhoneNumber, p.PreferredLanguage, p.TimeZone, interactions, preferences, business,
	)
	if err != nil {
		return fmt.Errorf("saving profile: %w", err)
	}
	return nil
}

func (r *PostgresProfileRepository) SaveSummary(ctx context.Context, s *ConversationSummary) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO conversation_summaries
		   (conversation_id, user_id, started_at, duration_ms, message_count, main_topics, outcome, satisfaction, key_insights)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ConversationID, s.UserID, s.StartedAt, s.DurationMs, s.MessageCount,
		nonNil(s.MainTopics), string(s.Outcome), s.Satisfaction, nonNil(s.KeyInsights),
	)
	if err != nil {
		return fmt.Errorf("inserting summary: %w", err)
	}
	return nil
}

func (r *PostgresProfileRepository) ListSummaries(ctx context.Context, userID string, limit int) ([]ConversationSummary, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT conversation_id, user_id, started_at, duration_ms, message_count, main_topics, outcome, satisfaction, key_insights
		 FROM conversation_summaries
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing summaries: %w", err)
	}
	defer rows.Close()

	summaries := []ConversationSummary{}
	for rows.Next() {
		var (
			s       ConversationSummary
			outcome string
		)
		if err := rows.Scan(&s.ConversationID, &s.UserID, &s.StartedAt, &s.DurationMs, &s.MessageCount,
			&s.MainTopics, &outcome, &s.Satisfaction, &s.KeyInsights); err != nil {
			return nil, fmt.Errorf("scanning summary: %w", err)
		}
		s.Outcome = Outcome(outcome)
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

func marshalProfileParts(p *UserProfile) (interactions, preferences, business []byte, err error) {
	if interactions, err = json.Marshal(p.Interactions); err != nil {
		return nil, nil, nil, fmt.Errorf("encoding interactions: %w", err)
	}
	if preferences, err = json.Marshal(p.Preferences); err != nil {
		return nil, nil, nil, fmt.Errorf("encoding preferences: %w", err)
	}
	if business, err = json.Marshal(p.Business); err != nil {
		return nil, nil, nil, fmt.Errorf("encoding business context: %w", err)
	}
	return interactions, preferences, business, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
