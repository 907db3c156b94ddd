package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webplanner/config"
)

func newTestStore(t *testing.T) *TripStore {
	t.Helper()
	adapter, err := NewDatabaseAdapter(config.StorageConfig{
		Type: "sqlite",
		Path: filepath.Join(t.TempDir(), "trips.db"),
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, adapter.Open(ctx))
	t.Cleanup(func() { _ = adapter.Close() })
	require.NoError(t, adapter.InitSchema(ctx))

	loc, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)
	return NewTripStore(adapter, loc)
}

func sampleTrip() *Trip {
	return &Trip{
		Title:       "南京三日游",
		Destination: "南京",
		StartDate:   "2025-10-01",
		EndDate:     "2025-10-03",
		Budget:      3000,
		Travelers:   2,
		Preferences: Preferences{Interests: []string{"历史", "美食"}, Pace: "slow"},
	}
}

func TestTripStore_CreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	trip := sampleTrip()
	require.NoError(t, store.Create(ctx, trip))
	assert.NotEmpty(t, trip.ID)
	assert.Equal(t, 3, trip.Duration)
	assert.False(t, trip.CreatedAt.IsZero())

	got, err := store.Get(ctx, trip.ID)
	require.NoError(t, err)
	assert.Equal(t, "南京三日游", got.Title)
	assert.Equal(t, []string{"历史", "美食"}, got.Preferences.Interests)
	assert.Equal(t, "slow", got.Preferences.Pace)
	assert.Equal(t, "hotel", got.Preferences.Accommodation)
	assert.Equal(t, StatusPlanning, got.Status)
	assert.Empty(t, got.Itinerary)
	assert.NotNil(t, got.Itinerary)
	assert.True(t, got.CreatedAt.Equal(trip.CreatedAt))
}

func TestTripStore_GetMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTripStore_CreateRejectsInvalid(t *testing.T) {
	store := newTestStore(t)

	trip := sampleTrip()
	trip.Title = " "
	trip.EndDate = "2025-09-30"
	trip.Budget = -1

	err := store.Create(context.Background(), trip)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Problems, 3)
	assert.Contains(t, err.Error(), "旅行标题不能为空")
}

func TestTripStore_ListAndFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	store.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	var ids []string
	for i := 0; i < 3; i++ {
		trip := sampleTrip()
		trip.Title = strings.Repeat("游", i+1)
		require.NoError(t, store.Create(ctx, trip))
		ids = append(ids, trip.ID)
	}
	require.NoError(t, store.UpdateStatus(ctx, ids[0], StatusCompleted))

	all, err := store.List(ctx, ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	// 最近更新的在前
	assert.Equal(t, ids[0], all[0].ID)

	completed := StatusCompleted
	done, err := store.List(ctx, ListOptions{Status: &completed})
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, ids[0], done[0].ID)

	page, err := store.List(ctx, ListOptions{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[2], page[0].ID)
}

func ptr[T any](v T) *T { return &v }

func TestTripStore_Update(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	trip := sampleTrip()
	require.NoError(t, store.Create(ctx, trip))

	updated, err := store.Update(ctx, trip.ID, TripPatch{EndDate: ptr("2025-10-05"), Description: ptr("加两天")})
	require.NoError(t, err)
	assert.Equal(t, 5, updated.Duration)

	got, err := store.Get(ctx, trip.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Duration)
	assert.Equal(t, "加两天", got.Description)
	assert.Equal(t, "南京三日游", got.Title)

	_, err = store.Update(ctx, "missing", TripPatch{Title: ptr("x")})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTripStore_UpdateKeepsOmittedFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	trip := sampleTrip()
	require.NoError(t, store.Create(ctx, trip))
	_, err := store.AddExpense(ctx, trip.ID, Expense{Category: "dining", Amount: 88})
	require.NoError(t, err)
	require.NoError(t, store.ReplaceItinerary(ctx, trip.ID, []ItineraryItem{{ID: "a", Day: 1, Title: "中山陵"}}, true))

	_, err = store.Update(ctx, trip.ID, TripPatch{Title: ptr("南京周末")})
	require.NoError(t, err)

	got, err := store.Get(ctx, trip.ID)
	require.NoError(t, err)
	assert.Equal(t, "南京周末", got.Title)
	assert.Len(t, got.Expenses, 1)
	require.Len(t, got.Itinerary, 1)
	assert.Equal(t, "中山陵", got.Itinerary[0].Title)
	assert.True(t, got.AIGenerated)
	assert.Equal(t, 3000.0, got.Budget)
	assert.Equal(t, []string{"历史", "美食"}, got.Preferences.Interests)
	assert.True(t, got.CreatedAt.Equal(trip.CreatedAt))
}

func TestTripStore_UpdateRejectsInvalidMerge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	trip := sampleTrip()
	require.NoError(t, store.Create(ctx, trip))

	// 合并后结束日期早于开始日期
	_, err := store.Update(ctx, trip.ID, TripPatch{EndDate: ptr("2025-09-01")})
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))

	got, err := store.Get(ctx, trip.ID)
	require.NoError(t, err)
	assert.Equal(t, "2025-10-03", got.EndDate)
}

func TestTripStore_Delete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	trip := sampleTrip()
	require.NoError(t, store.Create(ctx, trip))
	require.NoError(t, store.Delete(ctx, trip.ID))

	_, err := store.Get(ctx, trip.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, trip.ID), ErrNotFound)
}

func TestTripStore_UpdateStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	trip := sampleTrip()
	require.NoError(t, store.Create(ctx, trip))

	assert.ErrorIs(t, store.UpdateStatus(ctx, trip.ID, TripStatus(7)), ErrInvalidStatus)
	assert.ErrorIs(t, store.UpdateStatus(ctx, "missing", StatusCompleted), ErrNotFound)

	require.NoError(t, store.UpdateStatus(ctx, trip.ID, StatusCompleted))
	got, err := store.Get(ctx, trip.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestTripStore_ReplaceItinerary(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	trip := sampleTrip()
	require.NoError(t, store.Create(ctx, trip))

	items := []ItineraryItem{
		{ID: "a", Day: 1, Title: "中山陵", Location: "南京市中山陵", Category: "sightseeing", Duration: 180,
			Coordinates: &Coordinates{Longitude: 118.848, Latitude: 32.058}},
		{ID: "b", Day: 1, Title: "夫子庙", Location: "夫子庙", Category: "dining", Duration: 90,
			Coordinates: &Coordinates{Longitude: 118.796, Latitude: 32.060, Approximate: true}},
	}
	require.NoError(t, store.ReplaceItinerary(ctx, trip.ID, items, true))

	got, err := store.Get(ctx, trip.ID)
	require.NoError(t, err)
	assert.True(t, got.AIGenerated)
	require.Len(t, got.Itinerary, 2)
	assert.Equal(t, "中山陵", got.Itinerary[0].Title)
	assert.True(t, got.Itinerary[1].Coordinates.Approximate)

	assert.ErrorIs(t, store.ReplaceItinerary(ctx, "missing", nil, false), ErrNotFound)
}

func TestTripStore_AddExpense(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	trip := sampleTrip()
	require.NoError(t, store.Create(ctx, trip))

	e, err := store.AddExpense(ctx, trip.ID, Expense{Category: "dining", Amount: 120})
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	_, err = store.AddExpense(ctx, trip.ID, Expense{Category: "ticket", Amount: 80})
	require.NoError(t, err)

	got, err := store.Get(ctx, trip.ID)
	require.NoError(t, err)
	assert.Len(t, got.Expenses, 2)
	assert.Equal(t, 200.0, got.TotalExpenses())

	_, err = store.AddExpense(ctx, "missing", Expense{Amount: 1})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.AddExpense(ctx, trip.ID, Expense{Amount: -5})
	var ve *ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestTripStore_UpdateAndDeleteExpense(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	trip := sampleTrip()
	require.NoError(t, store.Create(ctx, trip))
	e, err := store.AddExpense(ctx, trip.ID, Expense{Category: "dining", Amount: 120, Note: "午饭"})
	require.NoError(t, err)

	updated, err := store.UpdateExpense(ctx, trip.ID, e.ID, ExpensePatch{Amount: ptr(150.0)})
	require.NoError(t, err)
	assert.Equal(t, 150.0, updated.Amount)
	assert.Equal(t, "午饭", updated.Note)
	assert.Equal(t, "dining", updated.Category)

	_, err = store.UpdateExpense(ctx, trip.ID, e.ID, ExpensePatch{Amount: ptr(-1.0)})
	var ve *ValidationError
	assert.True(t, errors.As(err, &ve))

	_, err = store.UpdateExpense(ctx, trip.ID, "nope", ExpensePatch{Amount: ptr(1.0)})
	assert.ErrorIs(t, err, ErrItemNotFound)
	_, err = store.UpdateExpense(ctx, "missing", e.ID, ExpensePatch{})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.DeleteExpense(ctx, trip.ID, e.ID))
	assert.ErrorIs(t, store.DeleteExpense(ctx, trip.ID, e.ID), ErrItemNotFound)

	got, err := store.Get(ctx, trip.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Expenses)
}

func TestTripStore_ExpenseStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	trip := sampleTrip()
	require.NoError(t, store.Create(ctx, trip))

	day1 := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
	// UTC 17:00 在上海已是第二天
	day2 := time.Date(2025, 10, 1, 17, 0, 0, 0, time.UTC)
	for _, e := range []Expense{
		{Category: "dining", Amount: 100, Date: day1},
		{Category: "dining", Amount: 50, Date: day2},
		{Category: "ticket", Amount: 70, Date: day1},
		{Amount: 30, Date: day2},
	} {
		_, err := store.AddExpense(ctx, trip.ID, e)
		require.NoError(t, err)
	}

	stats, err := store.ExpenseStats(ctx, trip.ID)
	require.NoError(t, err)
	assert.Equal(t, 250.0, stats.Total)
	assert.Equal(t, 4, stats.Count)
	assert.Equal(t, 2750.0, stats.Remaining)
	assert.Equal(t, CategoryTotal{Total: 150, Count: 2}, stats.ByCategory["dining"])
	assert.Equal(t, CategoryTotal{Total: 30, Count: 1}, stats.ByCategory["other"])
	assert.Equal(t, CategoryTotal{Total: 170, Count: 2}, stats.ByDate["2025-10-01"])
	assert.Equal(t, CategoryTotal{Total: 80, Count: 2}, stats.ByDate["2025-10-02"])

	_, err = store.ExpenseStats(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTripStore_ItineraryItems(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	trip := sampleTrip()
	require.NoError(t, store.Create(ctx, trip))

	first, err := store.AddItineraryItem(ctx, trip.ID, ItineraryItem{Day: 1, Title: "中山陵", Duration: 120})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	second, err := store.AddItineraryItem(ctx, trip.ID, ItineraryItem{ID: "dinner", Day: 1, Title: "夫子庙"})
	require.NoError(t, err)
	assert.Equal(t, "dinner", second.ID)

	_, err = store.AddItineraryItem(ctx, trip.ID, ItineraryItem{ID: "dinner", Title: "重复"})
	var ve *ValidationError
	assert.True(t, errors.As(err, &ve))
	_, err = store.AddItineraryItem(ctx, trip.ID, ItineraryItem{Day: 1})
	assert.True(t, errors.As(err, &ve))

	updated, err := store.UpdateItineraryItem(ctx, trip.ID, first.ID, ItineraryItemPatch{
		Time:        ptr("09:00"),
		Coordinates: &Coordinates{Longitude: 118.848, Latitude: 32.058},
	})
	require.NoError(t, err)
	assert.Equal(t, "09:00", updated.Time)
	assert.Equal(t, "中山陵", updated.Title)
	assert.Equal(t, 120, updated.Duration)

	_, err = store.UpdateItineraryItem(ctx, trip.ID, "nope", ItineraryItemPatch{})
	assert.ErrorIs(t, err, ErrItemNotFound)

	require.NoError(t, store.DeleteItineraryItem(ctx, trip.ID, second.ID))
	assert.ErrorIs(t, store.DeleteItineraryItem(ctx, trip.ID, second.ID), ErrItemNotFound)
	assert.ErrorIs(t, store.DeleteItineraryItem(ctx, "missing", second.ID), ErrNotFound)

	got, err := store.Get(ctx, trip.ID)
	require.NoError(t, err)
	require.Len(t, got.Itinerary, 1)
	assert.Equal(t, first.ID, got.Itinerary[0].ID)
	require.NotNil(t, got.Itinerary[0].Coordinates)
	assert.InDelta(t, 118.848, got.Itinerary[0].Coordinates.Longitude, 1e-9)
}

func TestNewDatabaseAdapter(t *testing.T) {
	a, err := NewDatabaseAdapter(config.StorageConfig{})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", a.GetDatabaseType())

	a, err = NewDatabaseAdapter(config.StorageConfig{Host: "db", Database: "trips"})
	require.NoError(t, err)
	assert.Equal(t, "mysql", a.GetDatabaseType())

	_, err = NewDatabaseAdapter(config.StorageConfig{Type: "postgres"})
	assert.Error(t, err)
}

func TestMySQLAdapter_BuildDSN(t *testing.T) {
	m := NewMySQLAdapter(config.StorageConfig{Host: "db.local", Database: "trips", Username: "planner", Password: "secret"})
	dsn, err := m.buildDSN()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dsn, "planner:secret@tcp(db.local:3306)/trips?"), dsn)
	assert.Contains(t, dsn, "charset=utf8mb4")
	assert.Contains(t, dsn, "clientFoundRows=true")

	_, err = NewMySQLAdapter(config.StorageConfig{Database: "trips", Username: "u"}).buildDSN()
	assert.Error(t, err)
}

func TestSplitSQLStatements(t *testing.T) {
	stmts := splitSQLStatements(mysqlSchema)
	require.Len(t, stmts, 1)
	assert.True(t, strings.HasPrefix(stmts[0], "CREATE TABLE IF NOT EXISTS trips"))

	stmts = splitSQLStatements("-- comment\nSELECT 1;\n\nSELECT\n 2;\nSELECT 3")
	assert.Equal(t, []string{"SELECT 1;", "SELECT 2;", "SELECT 3"}, stmts)
}

func TestBuildLimitOffset(t *testing.T) {
	assert.Equal(t, "", buildLimitOffset(0, 10))
	assert.Equal(t, " LIMIT 5", buildLimitOffset(5, 0))
	assert.Equal(t, " LIMIT 5 OFFSET 10", buildLimitOffset(5, 10))
}

func TestTrip_CalculateDuration(t *testing.T) {
	trip := &Trip{StartDate: "2025-10-01", EndDate: "2025-10-07"}
	assert.Equal(t, 7, trip.CalculateDuration())

	trip = &Trip{StartDate: "bad", Duration: 4}
	assert.Equal(t, 4, trip.CalculateDuration())
}
