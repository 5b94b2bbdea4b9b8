// Package database defines the insertions and transactions to the database
package database

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"edge-infer/internal/shared"
)

type DailyStats struct {
	Date           string
	Variant        shared.Variant
	Route          string
	RequestCount   uint64
	SuccessCount   uint64
	ErrorCount     uint64
	BytesIn        uint64
	InferenceMs    int64
	TotalMs        int64
	DetectionCount uint64
}

// Store persists batches of finished sessions.
type Store interface {
	SaveResults(ctx context.Context, recs []*shared.ResultRecord) error
}

type MySQLStore struct {
	db *sql.DB
}

func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

// SaveResults writes the inference log rows and folds them into the daily
// stats in one transaction.
func (s *MySQLStore) SaveResults(ctx context.Context, recs []*shared.ResultRecord) error {
	if len(recs) == 0 {
		return nil
	}
	logSQL, logVals := buildResultInsert(recs)
	statsSQL, statsVals := buildDailyStatsUpsert(recs, time.Now())
	return ExecuteTransaction(ctx, s.db, []func(*sql.Tx) error{
		func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, logSQL, logVals...); err != nil {
				return fmt.Errorf("failed to save inference log: %w", err)
			}
			return nil
		},
		func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, statsSQL, statsVals...); err != nil {
				return fmt.Errorf("failed to save daily stats: %w", err)
			}
			return nil
		},
	})
}

func buildResultInsert(recs []*shared.ResultRecord) (string, []any) {
	sqlStr := `INSERT INTO inference_log (
            session_id, variant, route, success, predicted_class, confidence,
            detections, error_kind, error_message, bytes_in,
            inference_time, total_time, created_at
        ) VALUES`
	vals := make([]any, 0, len(recs)*13)
	for _, r := range recs {
		sqlStr += "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?),"
		vals = append(vals,
			r.SessionID, string(r.Variant), shared.Truncate(r.Route, shared.MaxStoredRoute), r.Success, r.PredictedClass, r.Confidence,
			r.Detections, r.ErrorKind, shared.Truncate(r.ErrorMessage, shared.MaxStoredMessage), r.BytesIn,
			secondsToMs(r.InferenceTime), secondsToMs(r.TotalTime), r.CreatedAt,
		)
	}
	return strings.TrimSuffix(sqlStr, ","), vals
}

func buildDailyStatsUpsert(recs []*shared.ResultRecord, now time.Time) (string, []any) {
	today := now.Format("2006-01-02")
	aggregated := make(map[string]*DailyStats)
	var order []string
	for _, r := range recs {
		route := shared.Truncate(r.Route, shared.MaxStoredRoute)
		key := string(r.Variant) + "|" + route
		existing, ok := aggregated[key]
		if !ok {
			existing = &DailyStats{Date: today, Variant: r.Variant, Route: route}
			aggregated[key] = existing
			order = append(order, key)
		}
		existing.RequestCount++
		if r.Success {
			existing.SuccessCount++
		} else {
			existing.ErrorCount++
		}
		existing.BytesIn += uint64(r.BytesIn)
		existing.InferenceMs += secondsToMs(r.InferenceTime)
		existing.TotalMs += secondsToMs(r.TotalTime)
		existing.DetectionCount += uint64(r.Detections)
	}

	sqlStr := `INSERT INTO inference_daily_stats (
		date, variant, route, request_count, success_count, error_count, bytes_in, inference_time, total_time, detections
	) VALUES`
	vals := make([]any, 0, len(order)*10)
	for _, key := range order {
		v := aggregated[key]
		sqlStr += "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?),"
		vals = append(vals, v.Date, string(v.Variant), v.Route, v.RequestCount, v.SuccessCount, v.ErrorCount, v.BytesIn, v.InferenceMs, v.TotalMs, v.DetectionCount)
	}
	sqlStr = strings.TrimSuffix(sqlStr, ",")
	sqlStr += ` ON DUPLICATE KEY UPDATE
		request_count = request_count + VALUES(request_count),
		success_count = success_count + VALUES(success_count),
		error_count = error_count + VALUES(error_count),
		bytes_in = bytes_in + VALUES(bytes_in),
		inference_time = inference_time + VALUES(inference_time),
		total_time = total_time + VALUES(total_time),
		detections = detections + VALUES(detections)`
	return sqlStr, vals
}

func secondsToMs(s float64) int64 {
	return int64(math.Round(s * 1000))
}

// ExecuteTransaction executes one transaction with one or multiple database executions.
func ExecuteTransaction(ctx context.Context, writeDB *sql.DB, fns []func(*sql.Tx) error) error {
	tx, err := writeDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Execute all functions in the transaction
	for _, fn := range fns {
		if err := fn(tx); err != nil {
			return fmt.Errorf("failed to execute transaction function: %w", err)
		}
	}

	// Commit the transaction if all functions succeeded
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
