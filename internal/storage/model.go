package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout 行程日期格式
const DateLayout = "2006-01-02"

// TripStatus 0: 规划中, 1: 已完成
type TripStatus int

const (
	StatusPlanning  TripStatus = 0
	StatusCompleted TripStatus = 1
)

func (s TripStatus) String() string {
	switch s {
	case StatusPlanning:
		return "planning"
	case StatusCompleted:
		return "completed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

func (s TripStatus) Valid() bool {
	return s == StatusPlanning || s == StatusCompleted
}

// Preferences 旅行偏好
type Preferences struct {
	Interests      []string `json:"interests"`
	Pace           string   `json:"pace"`           // slow, moderate, fast
	Accommodation  string   `json:"accommodation"`  // hotel, hostel, apartment, luxury
	Transportation string   `json:"transportation"` // car, public, mixed
	Food           string   `json:"food"`           // local, international, budget, luxury
	Accessibility  bool     `json:"accessibility,omitempty"`
	PetFriendly    bool     `json:"pet_friendly,omitempty"`
	FamilyFriendly bool     `json:"family_friendly,omitempty"`
}

// DefaultPreferences 新建行程的默认偏好
func DefaultPreferences() Preferences {
	return Preferences{
		Interests:      []string{},
		Pace:           "moderate",
		Accommodation:  "hotel",
		Transportation: "mixed",
		Food:           "local",
	}
}

// Coordinates 行程项坐标，Approximate 表示来自城市中心兜底
type Coordinates struct {
	Longitude   float64 `json:"lng"`
	Latitude    float64 `json:"lat"`
	Approximate bool    `json:"approximate,omitempty"`
}

// ItineraryItem 行程项
type ItineraryItem struct {
	ID           string       `json:"id"`
	Day          int          `json:"day"`
	Date         string       `json:"date"`
	Time         string       `json:"time"`
	Title        string       `json:"title"`
	Description  string       `json:"description"`
	Location     string       `json:"location"`
	Coordinates  *Coordinates `json:"coordinates,omitempty"`
	Category     string       `json:"category"` // sightseeing, dining, accommodation, transportation, activity
	Duration     int          `json:"duration"` // 分钟
	Cost         float64      `json:"cost"`
	Notes        string       `json:"notes"`
	Images       []string     `json:"images"`
	Reservations []string     `json:"reservations"`
}

// Expense 费用记录
type Expense struct {
	ID       string    `json:"id"`
	Category string    `json:"category"`
	Amount   float64   `json:"amount"`
	Note     string    `json:"note,omitempty"`
	Date     time.Time `json:"date"`
}

// Trip 旅行
type Trip struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Destination string          `json:"destination"`
	StartDate   string          `json:"start_date"`
	EndDate     string          `json:"end_date"`
	Duration    int             `json:"duration"`
	Budget      float64         `json:"budget"`
	Travelers   int             `json:"travelers"`
	Preferences Preferences     `json:"preferences"`
	Itinerary   []ItineraryItem `json:"itinerary"`
	Expenses    []Expense       `json:"expenses"`
	Status      TripStatus      `json:"status"`
	AIGenerated bool            `json:"ai_generated"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

var (
	ErrNotFound      = errors.New("trip not found")
	ErrInvalidStatus = errors.New("invalid trip status")
	// ErrItemNotFound 行程存在但其中的行程项或费用不存在
	ErrItemNotFound = errors.New("trip item not found")
)

// ValidationError 汇总所有字段错误
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid trip: " + strings.Join(e.Problems, "; ")
}

// Validate checks the user-supplied fields.
func (t *Trip) Validate() error {
	var problems []string

	if strings.TrimSpace(t.Title) == "" {
		problems = append(problems, "旅行标题不能为空")
	}
	if strings.TrimSpace(t.Destination) == "" {
		problems = append(problems, "目的地不能为空")
	}

	start, startErr := time.Parse(DateLayout, t.StartDate)
	end, endErr := time.Parse(DateLayout, t.EndDate)
	switch {
	case t.StartDate == "":
		problems = append(problems, "开始日期不能为空")
	case startErr != nil:
		problems = append(problems, "开始日期格式应为 YYYY-MM-DD")
	}
	switch {
	case t.EndDate == "":
		problems = append(problems, "结束日期不能为空")
	case endErr != nil:
		problems = append(problems, "结束日期格式应为 YYYY-MM-DD")
	}
	if startErr == nil && endErr == nil && !end.After(start) {
		problems = append(problems, "结束日期必须晚于开始日期")
	}

	if t.Budget < 0 {
		problems = append(problems, "预算不能为负数")
	}
	if t.Travelers < 1 {
		problems = append(problems, "旅行人数至少为1人")
	}
	if !t.Status.Valid() {
		problems = append(problems, ErrInvalidStatus.Error())
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// CalculateDuration 天数含首尾两天
func (t *Trip) CalculateDuration() int {
	start, err1 := time.Parse(DateLayout, t.StartDate)
	end, err2 := time.Parse(DateLayout, t.EndDate)
	if err1 != nil || err2 != nil {
		return t.Duration
	}
	days := int(end.Sub(start).Hours()/24) + 1
	if days < 1 {
		days = 1
	}
	t.Duration = days
	return days
}

// ApplyDefaults fills zero-valued preferences and counts.
func (t *Trip) ApplyDefaults() {
	def := DefaultPreferences()
	if t.Preferences.Interests == nil {
		t.Preferences.Interests = def.Interests
	}
	if t.Preferences.Pace == "" {
		t.Preferences.Pace = def.Pace
	}
	if t.Preferences.Accommodation == "" {
		t.Preferences.Accommodation = def.Accommodation
	}
	if t.Preferences.Transportation == "" {
		t.Preferences.Transportation = def.Transportation
	}
	if t.Preferences.Food == "" {
		t.Preferences.Food = def.Food
	}
	if t.Travelers == 0 {
		t.Travelers = 1
	}
	if t.Itinerary == nil {
		t.Itinerary = []ItineraryItem{}
	}
	if t.Expenses == nil {
		t.Expenses = []Expense{}
	}
}

// TotalExpenses 已记录费用合计
func (t *Trip) TotalExpenses() float64 {
	var sum float64
	for _, e := range t.Expenses {
		sum += e.Amount
	}
	return sum
}

// TripPatch carries a partial trip update. Nil fields keep the stored value.
type TripPatch struct {
	Title       *string          `json:"title"`
	Description *string          `json:"description"`
	Destination *string          `json:"destination"`
	StartDate   *string          `json:"start_date"`
	EndDate     *string          `json:"end_date"`
	Budget      *float64         `json:"budget"`
	Travelers   *int             `json:"travelers"`
	Preferences *Preferences     `json:"preferences"`
	Itinerary   *[]ItineraryItem `json:"itinerary"`
	Expenses    *[]Expense       `json:"expenses"`
	Status      *TripStatus      `json:"status"`
	AIGenerated *bool            `json:"ai_generated"`
}

// Apply merges p into t.
func (p TripPatch) Apply(t *Trip) {
	setIf(&t.Title, p.Title)
	setIf(&t.Description, p.Description)
	setIf(&t.Destination, p.Destination)
	setIf(&t.StartDate, p.StartDate)
	setIf(&t.EndDate, p.EndDate)
	setIf(&t.Budget, p.Budget)
	setIf(&t.Travelers, p.Travelers)
	setIf(&t.Preferences, p.Preferences)
	setIf(&t.Itinerary, p.Itinerary)
	setIf(&t.Expenses, p.Expenses)
	setIf(&t.Status, p.Status)
	setIf(&t.AIGenerated, p.AIGenerated)
}

// ItineraryItemPatch 行程项的部分更新，ID 不可修改
type ItineraryItemPatch struct {
	Day          *int         `json:"day"`
	Date         *string      `json:"date"`
	Time         *string      `json:"time"`
	Title        *string      `json:"title"`
	Description  *string      `json:"description"`
	Location     *string      `json:"location"`
	Coordinates  *Coordinates `json:"coordinates"`
	Category     *string      `json:"category"`
	Duration     *int         `json:"duration"`
	Cost         *float64     `json:"cost"`
	Notes        *string      `json:"notes"`
	Images       *[]string    `json:"images"`
	Reservations *[]string    `json:"reservations"`
}

func (p ItineraryItemPatch) Apply(item *ItineraryItem) {
	setIf(&item.Day, p.Day)
	setIf(&item.Date, p.Date)
	setIf(&item.Time, p.Time)
	setIf(&item.Title, p.Title)
	setIf(&item.Description, p.Description)
	setIf(&item.Location, p.Location)
	if p.Coordinates != nil {
		c := *p.Coordinates
		item.Coordinates = &c
	}
	setIf(&item.Category, p.Category)
	setIf(&item.Duration, p.Duration)
	setIf(&item.Cost, p.Cost)
	setIf(&item.Notes, p.Notes)
	setIf(&item.Images, p.Images)
	setIf(&item.Reservations, p.Reservations)
}

// ExpensePatch 费用的部分更新
type ExpensePatch struct {
	Category *string    `json:"category"`
	Amount   *float64   `json:"amount"`
	Note     *string    `json:"note"`
	Date     *time.Time `json:"date"`
}

func (p ExpensePatch) Apply(e *Expense) {
	setIf(&e.Category, p.Category)
	setIf(&e.Amount, p.Amount)
	setIf(&e.Note, p.Note)
	setIf(&e.Date, p.Date)
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// validateExpense 费用金额不能为负
func validateExpense(e Expense) error {
	if e.Amount < 0 {
		return &ValidationError{Problems: []string{"费用不能为负数"}}
	}
	return nil
}

// validateItem 行程项至少需要标题，天数从1开始
func validateItem(item ItineraryItem) error {
	var problems []string
	if strings.TrimSpace(item.Title) == "" {
		problems = append(problems, "行程项标题不能为空")
	}
	if item.Day < 0 {
		problems = append(problems, "行程项天数不能为负数")
	}
	if item.Duration < 0 || item.Cost < 0 {
		problems = append(problems, "时长和花费不能为负数")
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// CategoryTotal 单个分组的合计
type CategoryTotal struct {
	Total float64 `json:"total"`
	Count int     `json:"count"`
}

// ExpenseStats 费用统计，按类别和日期分组
type ExpenseStats struct {
	Total      float64                  `json:"total_expenses"`
	Count      int                      `json:"expense_count"`
	Budget     float64                  `json:"budget"`
	Remaining  float64                  `json:"remaining"`
	ByCategory map[string]CategoryTotal `json:"by_category"`
	ByDate     map[string]CategoryTotal `json:"by_date"`
}

// ExpenseStats groups expenses by category and by calendar day in loc.
func (t *Trip) ExpenseStats(loc *time.Location) ExpenseStats {
	if loc == nil {
		loc = time.Local
	}
	stats := ExpenseStats{
		Budget:     t.Budget,
		ByCategory: map[string]CategoryTotal{},
		ByDate:     map[string]CategoryTotal{},
	}
	for _, e := range t.Expenses {
		stats.Total += e.Amount
		stats.Count++

		category := e.Category
		if category == "" {
			category = "other"
		}
		c := stats.ByCategory[category]
		c.Total += e.Amount
		c.Count++
		stats.ByCategory[category] = c

		day := e.Date.In(loc).Format(DateLayout)
		d := stats.ByDate[day]
		d.Total += e.Amount
		d.Count++
		stats.ByDate[day] = d
	}
	stats.Remaining = t.Budget - stats.Total
	return stats
}
