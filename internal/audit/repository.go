package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository handles turn_logs PostgreSQL operations.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new audit Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert persists a single turn log and fills in its generated id.
func (r *Repository) Insert(ctx context.Context, log *TurnLog) error {
	functions := log.Functions
	if functions == nil {
		functions = []string{}
	}

	err := r.pool.QueryRow(ctx,
		`INSERT INTO turn_logs (conversation_id, user_id, intent, confidence, functions, success, processing_ms, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at`,
		log.ConversationID, log.UserID, log.Intent, log.Confidence, functions, log.Success, log.ProcessingMs, log.OccurredAt,
	).Scan(&log.ID, &log.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting turn log: %w", err)
	}
	return nil
}

// ListByConversation returns paginated turn logs for a conversation, newest first.
func (r *Repository) ListByConversation(ctx context.Context, conversationID string, params ListParams) ([]TurnLog, int64, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 || params.PageSize > 100 {
		params.PageSize = 20
	}

	var conditions []string
	var args []any
	argIdx := 1

	conditions = append(conditions, fmt.Sprintf("conversation_id = $%d", argIdx))
	args = append(args, conversationID)
	argIdx++

	if params.Intent != "" {
		conditions = append(conditions, fmt.Sprintf("intent = $%d", argIdx))
		args = append(args, params.Intent)
		argIdx++
	}

	if params.Success != nil {
		conditions = append(conditions, fmt.Sprintf("success = $%d", argIdx))
		args = append(args, *params.Success)
		argIdx++
	}

	if params.From != nil {
		conditions = append(conditions, fmt.Sprintf("occurred_at >= $%d", argIdx))
		args = append(args, *params.From)
		argIdx++
	}

	if params.To != nil {
		conditions = append(conditions, fmt.Sprintf("occurred_at <= $%d", argIdx))
		args = append(args, *params.To)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM turn_logs WHERE %s", where)
	var totalCount int64
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("counting turn logs: %w", err)
	}

	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(
		`SELECT id, conversation_id, user_id, intent, confidence, functions, success, processing_ms, occurred_at, created_at
		 FROM turn_logs WHERE %s
		 ORDER BY occurred_at DESC, id DESC
		 LIMIT $%d OFFSET $%d`, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying turn logs: %w", err)
	}
	defer rows.Close()

	logs := []TurnLog{}
	for rows.Next() {
		var l TurnLog
		if err := rows.Scan(&l.ID, &l.ConversationID, &l.UserID, &l.Intent, &l.Confidence,
			&l.Functions, &l.Success, &l.ProcessingMs, &l.OccurredAt, &l.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning turn log: %w", err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating turn logs: %w", err)
	}

	return logs, totalCount, nil
}
