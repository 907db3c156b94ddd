package itinerary

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"webplanner/internal/storage"
)

var (
	jsonFence    = regexp.MustCompile("(?s)```json\\s*\\n(.*?)\\n\\s*```")
	anyFence     = regexp.MustCompile("(?s)```(.*?)```")
	bareObject   = regexp.MustCompile(`(?s)[\[{].*[\]}]`)
	defaultTime  = "09:00-18:00"
	defaultTitle = "未命名活动"
)

// rawItem 模型输出的行程项，字段类型宽松
type rawItem struct {
	Day          flexInt   `json:"day"`
	Date         string    `json:"date"`
	Time         string    `json:"time"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Location     string    `json:"location"`
	Category     string    `json:"category"`
	Duration     flexInt   `json:"duration"`
	Cost         flexFloat `json:"cost"`
	Notes        string    `json:"notes"`
	Images       []string  `json:"images"`
	Reservations []string  `json:"reservations"`
	Activities   []rawItem `json:"activities"`
}

type rawPlan struct {
	DailyItinerary []rawItem `json:"daily_itinerary"`
	Itinerary      []rawItem `json:"itinerary"`
}

// ParseResponse extracts itinerary items from a model reply. The second
// return value is false when nothing usable was found and the sample
// itinerary was substituted.
func ParseResponse(text string) ([]storage.ItineraryItem, bool) {
	payload := extractJSON(text)

	var list []rawItem
	if err := json.Unmarshal([]byte(payload), &list); err == nil {
		if items := normalizeFlat(list); len(items) > 0 {
			return items, true
		}
		return SampleItinerary(), false
	}

	var plan rawPlan
	if err := json.Unmarshal([]byte(payload), &plan); err != nil {
		return SampleItinerary(), false
	}
	days := plan.DailyItinerary
	if len(days) == 0 {
		days = plan.Itinerary
	}
	if items := normalizeDays(days); len(items) > 0 {
		return items, true
	}
	return SampleItinerary(), false
}

func extractJSON(text string) string {
	if m := jsonFence.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := anyFence.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(m[1]), "json"))
	}
	if m := bareObject.FindString(text); m != "" {
		return m
	}
	return strings.TrimSpace(text)
}

// normalizeDays 展开 {day, date, activities:[...]} 结构
func normalizeDays(days []rawItem) []storage.ItineraryItem {
	var out []storage.ItineraryItem
	for _, d := range days {
		day := int(d.Day)
		if day <= 0 {
			day = 1
		}
		for _, a := range d.Activities {
			if a.Day <= 0 {
				a.Day = flexInt(day)
			}
			if a.Date == "" {
				a.Date = d.Date
			}
			out = append(out, normalizeItem(a))
		}
	}
	return out
}

func normalizeFlat(list []rawItem) []storage.ItineraryItem {
	if len(list) > 0 && len(list[0].Activities) > 0 {
		return normalizeDays(list)
	}
	out := make([]storage.ItineraryItem, 0, len(list))
	for _, it := range list {
		out = append(out, normalizeItem(it))
	}
	return out
}

func normalizeItem(r rawItem) storage.ItineraryItem {
	item := storage.ItineraryItem{
		ID:           uuid.NewString(),
		Day:          int(r.Day),
		Date:         r.Date,
		Time:         r.Time,
		Title:        r.Title,
		Description:  r.Description,
		Location:     r.Location,
		Category:     r.Category,
		Duration:     int(r.Duration),
		Cost:         float64(r.Cost),
		Notes:        r.Notes,
		Images:       r.Images,
		Reservations: r.Reservations,
	}
	if item.Day <= 0 {
		item.Day = 1
	}
	if item.Time == "" {
		item.Time = defaultTime
	}
	if item.Title == "" {
		item.Title = defaultTitle
	}
	if item.Category == "" {
		item.Category = "sightseeing"
	}
	if item.Duration <= 0 {
		item.Duration = 60
	}
	if item.Images == nil {
		item.Images = []string{}
	}
	if item.Reservations == nil {
		item.Reservations = []string{}
	}
	return item
}

// SampleItinerary 模型输出无法解析时的示例行程
func SampleItinerary() []storage.ItineraryItem {
	samples := []storage.ItineraryItem{
		{Day: 1, Time: "09:00-12:00", Title: "抵达目的地", Description: "抵达目的地，办理入住手续，安顿行李", Location: "机场/车站 → 酒店", Category: "transportation", Duration: 180, Notes: "请提前确认交通方式和时间"},
		{Day: 1, Time: "12:00-13:30", Title: "午餐时间", Description: "在当地特色餐厅享用午餐，品尝当地美食", Location: "当地特色餐厅", Category: "dining", Duration: 90, Cost: 80, Notes: "推荐尝试当地特色菜品"},
		{Day: 1, Time: "14:00-17:00", Title: "城市观光", Description: "游览城市中心景点，感受当地文化氛围", Location: "市中心景点", Category: "sightseeing", Duration: 180, Notes: "建议穿着舒适的鞋子"},
		{Day: 1, Time: "18:00-19:30", Title: "晚餐", Description: "在推荐的餐厅享用晚餐", Location: "推荐餐厅", Category: "dining", Duration: 90, Cost: 120, Notes: "可以尝试当地特色晚餐"},
		{Day: 2, Time: "09:00-12:00", Title: "景点游览", Description: "参观著名景点，了解历史文化", Location: "著名景点", Category: "sightseeing", Duration: 180, Cost: 50, Notes: "提前查看开放时间"},
		{Day: 2, Time: "12:30-13:30", Title: "午餐", Description: "在景点附近享用午餐", Location: "景点附近餐厅", Category: "dining", Duration: 60, Cost: 60, Notes: "方便快捷的午餐选择"},
		{Day: 2, Time: "14:30-17:00", Title: "文化体验", Description: "参与当地文化活动或参观博物馆", Location: "文化场所", Category: "activity", Duration: 150, Cost: 30, Notes: "体验当地文化特色"},
	}
	for i := range samples {
		samples[i].ID = uuid.NewString()
		samples[i].Images = []string{}
		samples[i].Reservations = []string{}
	}
	return samples
}

// flexInt accepts 3, 3.0 and "3".
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var v flexFloat
	if err := v.UnmarshalJSON(b); err != nil {
		return err
	}
	*f = flexInt(v)
	return nil
}

// flexFloat accepts numbers, numeric strings ("120", "约120元" reads as 120) and null.
type flexFloat float64

var leadingNumber = regexp.MustCompile(`-?\d+(\.\d+)?`)

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		// null、对象等一律视为 0
		*f = 0
		return nil
	}
	m := leadingNumber.FindString(s)
	if m == "" {
		*f = 0
		return nil
	}
	parsed, err := strconv.ParseFloat(m, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexFloat(parsed)
	return nil
}
