package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/agoramesh/agora/pkg/market"
)

// AppendUsage implements [market.UsageStore]. Records without an id get a
// fresh UUID before insert.
func (s *Store) AppendUsage(ctx context.Context, rec market.UsageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	params, err := json.Marshal(paramsOrEmpty(rec.Params))
	if err != nil {
		return fmt.Errorf("usage: append: encode parameters: %w", err)
	}
	var data []byte
	if rec.Response.Data != nil {
		if data, err = json.Marshal(rec.Response.Data); err != nil {
			return fmt.Errorf("usage: append: encode data: %w", err)
		}
	}

	const q = `
		INSERT INTO usage_records
		    (id, tool_id, caller_id, session_id, parameters,
		     success, data, error, status_code, execution_time_ms,
		     cost_in_wei, paid, transaction_hash, payment_timestamp, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err = s.pool.Exec(ctx, q,
		rec.ID, rec.ToolID, rec.CallerID, rec.SessionID, params,
		rec.Response.Success, data, rec.Response.Error, rec.Response.StatusCode,
		rec.Response.ExecutionTime.Milliseconds(),
		rec.Billing.CostInWei, rec.Billing.Paid, rec.Billing.TransactionHash,
		rec.Billing.PaymentTimestamp, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("usage: append: %w", err)
	}
	return nil
}

// QueryUsage implements [market.UsageStore].
func (s *Store) QueryUsage(ctx context.Context, filter market.UsageFilter) ([]market.UsageRecord, error) {
	var (
		args []any
		next = func(v any) string {
			args = append(args, v)
			return fmt.Sprintf("$%d", len(args))
		}
		conditions []string
	)
	if len(filter.ToolIDs) > 0 {
		conditions = append(conditions, "tool_id = ANY("+next(filter.ToolIDs)+")")
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "timestamp >= "+next(filter.Since))
	}
	if filter.CallerID != "" {
		conditions = append(conditions, "caller_id = "+next(filter.CallerID))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, "\n  AND ")
	}

	q := fmt.Sprintf(`
		SELECT id, tool_id, caller_id, session_id, parameters,
		       success, data, error, status_code, execution_time_ms,
		       cost_in_wei, paid, transaction_hash, payment_timestamp, timestamp
		FROM   usage_records
		%s
		ORDER  BY timestamp, id`, whereClause)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("usage: query: %w", err)
	}
	recs, err := pgx.CollectRows(rows, scanUsage)
	if err != nil {
		return nil, fmt.Errorf("usage: query: %w", err)
	}
	return recs, nil
}

// MarkPaid implements [market.UsageStore].
func (s *Store) MarkPaid(ctx context.Context, recordID, txHash string, paidAt time.Time) error {
	const q = `
		UPDATE usage_records
		SET    paid = TRUE, transaction_hash = $2, payment_timestamp = $3
		WHERE  id = $1`

	tag, err := s.pool.Exec(ctx, q, recordID, txHash, paidAt)
	if err != nil {
		return fmt.Errorf("usage: mark paid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return market.ErrNotFound
	}
	return nil
}

// scanUsage maps one usage_records row to a [market.UsageRecord].
func scanUsage(row pgx.CollectableRow) (market.UsageRecord, error) {
	var (
		rec    market.UsageRecord
		params []byte
		data   []byte
		execMs int64
		paidAt *time.Time
	)
	if err := row.Scan(
		&rec.ID, &rec.ToolID, &rec.CallerID, &rec.SessionID, &params,
		&rec.Response.Success, &data, &rec.Response.Error, &rec.Response.StatusCode,
		&execMs, &rec.Billing.CostInWei, &rec.Billing.Paid,
		&rec.Billing.TransactionHash, &paidAt, &rec.Timestamp,
	); err != nil {
		return market.UsageRecord{}, err
	}

	rec.Response.ExecutionTime = time.Duration(execMs) * time.Millisecond
	rec.Billing.PaymentTimestamp = paidAt

	if len(params) > 0 {
		if err := json.Unmarshal(params, &rec.Params); err != nil {
			return market.UsageRecord{}, fmt.Errorf("decode parameters: %w", err)
		}
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &rec.Response.Data); err != nil {
			return market.UsageRecord{}, fmt.Errorf("decode data: %w", err)
		}
	}
	return rec, nil
}

// paramsOrEmpty keeps the parameters column NOT NULL friendly.
func paramsOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
