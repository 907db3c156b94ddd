package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

const tripColumns = "id, title, description, destination, start_date, end_date, duration, budget, travelers, " +
	"preferences, itinerary, expenses, status, ai_generated, created_at, updated_at"

// ListOptions 列表查询条件
type ListOptions struct {
	Status *TripStatus
	Limit  int
	Offset int
}

// TripStore 行程持久化，SQL 在 SQLite 与 MySQL 间通用
type TripStore struct {
	adapter  DatabaseAdapter
	location *time.Location
	now      func() time.Time
	logger   *slog.Logger
}

func NewTripStore(adapter DatabaseAdapter, loc *time.Location) *TripStore {
	if loc == nil {
		loc = time.Local
	}
	return &TripStore{adapter: adapter, location: loc, now: time.Now, logger: slog.Default()}
}

func (s *TripStore) timestamp() time.Time {
	return s.now().In(s.location)
}

// Create validates and inserts trip, assigning ID and timestamps.
func (s *TripStore) Create(ctx context.Context, trip *Trip) error {
	trip.ApplyDefaults()
	if err := trip.Validate(); err != nil {
		return err
	}
	trip.CalculateDuration()
	if trip.ID == "" {
		trip.ID = uuid.NewString()
	}
	now := s.timestamp()
	trip.CreatedAt = now
	trip.UpdatedAt = now

	prefs, itinerary, expenses, err := encodeTripJSON(trip)
	if err != nil {
		return err
	}

	query := "INSERT INTO trips (" + tripColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
	_, err = s.adapter.DB().ExecContext(ctx, query,
		trip.ID, trip.Title, trip.Description, trip.Destination, trip.StartDate, trip.EndDate,
		trip.Duration, trip.Budget, trip.Travelers, prefs, itinerary, expenses,
		int(trip.Status), boolToInt(trip.AIGenerated),
		formatTime(trip.CreatedAt), formatTime(trip.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert trip: %w", err)
	}

	s.logger.Info("✅ [行程] 创建成功", "trip_id", trip.ID, "destination", trip.Destination)
	return nil
}

func (s *TripStore) Get(ctx context.Context, id string) (*Trip, error) {
	row := s.adapter.DB().QueryRowContext(ctx, "SELECT "+tripColumns+" FROM trips WHERE id = ?", id)
	trip, err := scanTrip(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get trip %s: %w", id, err)
	}
	return trip, nil
}

// List returns trips ordered by most recently updated first.
func (s *TripStore) List(ctx context.Context, opts ListOptions) ([]*Trip, error) {
	var (
		where []string
		args  []any
	)
	if opts.Status != nil {
		where = append(where, "status = ?")
		args = append(args, int(*opts.Status))
	}

	query := "SELECT " + tripColumns + " FROM trips"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC, id"
	query += s.adapter.BuildLimitOffset(opts.Limit, opts.Offset)

	rows, err := s.adapter.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list trips: %w", err)
	}
	defer rows.Close()

	trips := []*Trip{}
	for rows.Next() {
		trip, err := scanTrip(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trip: %w", err)
		}
		trips = append(trips, trip)
	}
	return trips, rows.Err()
}

// Update merges patch into the stored trip, then validates and saves the
// result. Fields the patch leaves nil keep their stored value.
func (s *TripStore) Update(ctx context.Context, id string, patch TripPatch) (*Trip, error) {
	return s.mutate(ctx, id, func(trip *Trip) error {
		patch.Apply(trip)
		trip.ApplyDefaults()
		if err := trip.Validate(); err != nil {
			return err
		}
		trip.CalculateDuration()
		return nil
	})
}

// mutate loads a trip inside a transaction, applies fn and writes every
// mutable column back. fn returning an error aborts without writing.
func (s *TripStore) mutate(ctx context.Context, id string, fn func(*Trip) error) (*Trip, error) {
	tx, err := s.adapter.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	trip, err := scanTrip(tx.QueryRowContext(ctx, "SELECT "+tripColumns+" FROM trips WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load trip %s: %w", id, err)
	}

	if err := fn(trip); err != nil {
		return nil, err
	}
	trip.ID = id
	trip.UpdatedAt = s.timestamp()

	prefs, itinerary, expenses, err := encodeTripJSON(trip)
	if err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE trips SET title = ?, description = ?, destination = ?, start_date = ?, end_date = ?,
		 duration = ?, budget = ?, travelers = ?, preferences = ?, itinerary = ?, expenses = ?,
		 status = ?, ai_generated = ?, updated_at = ? WHERE id = ?`,
		trip.Title, trip.Description, trip.Destination, trip.StartDate, trip.EndDate,
		trip.Duration, trip.Budget, trip.Travelers, prefs, itinerary, expenses,
		int(trip.Status), boolToInt(trip.AIGenerated), formatTime(trip.UpdatedAt), id)
	if err != nil {
		return nil, fmt.Errorf("update trip %s: %w", id, err)
	}
	if err := expectOneRow(res); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return trip, nil
}

func (s *TripStore) Delete(ctx context.Context, id string) error {
	res, err := s.adapter.DB().ExecContext(ctx, "DELETE FROM trips WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete trip %s: %w", id, err)
	}
	if err := expectOneRow(res); err != nil {
		return err
	}
	s.logger.Info("🗑️ [行程] 已删除", "trip_id", id)
	return nil
}

// UpdateStatus 切换规划中/已完成
func (s *TripStore) UpdateStatus(ctx context.Context, id string, status TripStatus) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}
	res, err := s.adapter.DB().ExecContext(ctx,
		"UPDATE trips SET status = ?, updated_at = ? WHERE id = ?",
		int(status), formatTime(s.timestamp()), id)
	if err != nil {
		return fmt.Errorf("update trip status %s: %w", id, err)
	}
	if err := expectOneRow(res); err != nil {
		return err
	}
	s.logger.Info("📋 [行程] 状态更新", "trip_id", id, "status", status.String())
	return nil
}

// ReplaceItinerary stores a freshly generated itinerary and marks the trip
// as AI generated when aiGenerated is set.
func (s *TripStore) ReplaceItinerary(ctx context.Context, id string, items []ItineraryItem, aiGenerated bool) error {
	if items == nil {
		items = []ItineraryItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode itinerary: %w", err)
	}
	res, err := s.adapter.DB().ExecContext(ctx,
		"UPDATE trips SET itinerary = ?, ai_generated = ?, updated_at = ? WHERE id = ?",
		string(data), boolToInt(aiGenerated), formatTime(s.timestamp()), id)
	if err != nil {
		return fmt.Errorf("replace itinerary %s: %w", id, err)
	}
	return expectOneRow(res)
}

// AddExpense appends an expense inside a transaction.
func (s *TripStore) AddExpense(ctx context.Context, id string, expense Expense) (*Expense, error) {
	if err := validateExpense(expense); err != nil {
		return nil, err
	}
	if expense.ID == "" {
		expense.ID = uuid.NewString()
	}
	if expense.Date.IsZero() {
		expense.Date = s.timestamp()
	}
	_, err := s.mutate(ctx, id, func(trip *Trip) error {
		trip.Expenses = append(trip.Expenses, expense)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &expense, nil
}

// UpdateExpense merges patch into one expense of the trip.
func (s *TripStore) UpdateExpense(ctx context.Context, id, expenseID string, patch ExpensePatch) (*Expense, error) {
	var updated Expense
	_, err := s.mutate(ctx, id, func(trip *Trip) error {
		for i := range trip.Expenses {
			if trip.Expenses[i].ID != expenseID {
				continue
			}
			e := trip.Expenses[i]
			patch.Apply(&e)
			if err := validateExpense(e); err != nil {
				return err
			}
			trip.Expenses[i] = e
			updated = e
			return nil
		}
		return ErrItemNotFound
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *TripStore) DeleteExpense(ctx context.Context, id, expenseID string) error {
	_, err := s.mutate(ctx, id, func(trip *Trip) error {
		kept := trip.Expenses[:0]
		for _, e := range trip.Expenses {
			if e.ID != expenseID {
				kept = append(kept, e)
			}
		}
		if len(kept) == len(trip.Expenses) {
			return ErrItemNotFound
		}
		trip.Expenses = kept
		return nil
	})
	if err == nil {
		s.logger.Info("🗑️ [费用] 已删除", "trip_id", id, "expense_id", expenseID)
	}
	return err
}

// ExpenseStats 按类别与日期汇总费用，日期按存储时区划分
func (s *TripStore) ExpenseStats(ctx context.Context, id string) (*ExpenseStats, error) {
	trip, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	stats := trip.ExpenseStats(s.location)
	return &stats, nil
}

// AddItineraryItem appends item to the trip's itinerary.
func (s *TripStore) AddItineraryItem(ctx context.Context, id string, item ItineraryItem) (*ItineraryItem, error) {
	if err := validateItem(item); err != nil {
		return nil, err
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	_, err := s.mutate(ctx, id, func(trip *Trip) error {
		for _, existing := range trip.Itinerary {
			if existing.ID == item.ID {
				return &ValidationError{Problems: []string{"行程项ID已存在"}}
			}
		}
		trip.Itinerary = append(trip.Itinerary, item)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *TripStore) UpdateItineraryItem(ctx context.Context, id, itemID string, patch ItineraryItemPatch) (*ItineraryItem, error) {
	var updated ItineraryItem
	_, err := s.mutate(ctx, id, func(trip *Trip) error {
		for i := range trip.Itinerary {
			if trip.Itinerary[i].ID != itemID {
				continue
			}
			item := trip.Itinerary[i]
			patch.Apply(&item)
			if err := validateItem(item); err != nil {
				return err
			}
			trip.Itinerary[i] = item
			updated = item
			return nil
		}
		return ErrItemNotFound
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *TripStore) DeleteItineraryItem(ctx context.Context, id, itemID string) error {
	_, err := s.mutate(ctx, id, func(trip *Trip) error {
		kept := trip.Itinerary[:0]
		for _, item := range trip.Itinerary {
			if item.ID != itemID {
				kept = append(kept, item)
			}
		}
		if len(kept) == len(trip.Itinerary) {
			return ErrItemNotFound
		}
		trip.Itinerary = kept
		return nil
	})
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrip(row rowScanner) (*Trip, error) {
	var (
		t                          Trip
		prefs, itinerary, expenses string
		status, aiGenerated        int
		createdAt, updatedAt       string
	)
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Destination, &t.StartDate, &t.EndDate,
		&t.Duration, &t.Budget, &t.Travelers, &prefs, &itinerary, &expenses,
		&status, &aiGenerated, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	t.Status = TripStatus(status)
	t.AIGenerated = aiGenerated != 0
	if err := decodeJSONColumn(prefs, &t.Preferences); err != nil {
		return nil, err
	}
	if err := decodeJSONColumn(itinerary, &t.Itinerary); err != nil {
		return nil, err
	}
	if err := decodeJSONColumn(expenses, &t.Expenses); err != nil {
		return nil, err
	}
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	t.ApplyDefaults()
	return &t, nil
}

func encodeTripJSON(t *Trip) (prefs, itinerary, expenses string, err error) {
	p, err := json.Marshal(t.Preferences)
	if err != nil {
		return "", "", "", fmt.Errorf("encode preferences: %w", err)
	}
	i, err := json.Marshal(t.Itinerary)
	if err != nil {
		return "", "", "", fmt.Errorf("encode itinerary: %w", err)
	}
	e, err := json.Marshal(t.Expenses)
	if err != nil {
		return "", "", "", fmt.Errorf("encode expenses: %w", err)
	}
	return string(p), string(i), string(e), nil
}

func decodeJSONColumn(raw string, v any) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decode column: %w", err)
	}
	return nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
