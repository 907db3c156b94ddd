package geo

import "strings"

// FallbackEntry 城市中心点的近似坐标
type FallbackEntry struct {
	Key       string // 匹配用的城市子串
	Name      string // 展示名称
	Longitude float64
	Latitude  float64
}

// FallbackTable is an ordered read-only list of city centers. It is built
// once and shared by all resolvers.
type FallbackTable struct {
	entries []FallbackEntry
}

var defaultFallbackEntries = []FallbackEntry{
	{"北京", "北京市", 116.407396, 39.904200},
	{"上海", "上海市", 121.473701, 31.230416},
	{"天津", "天津市", 117.200983, 39.084158},
	{"重庆", "重庆市", 106.551556, 29.563009},
	{"南京", "南京市", 118.796877, 32.060255},
	{"杭州", "杭州市", 120.155070, 30.274085},
	{"苏州", "苏州市", 120.585315, 31.298886},
	{"无锡", "无锡市", 120.311910, 31.491169},
	{"扬州", "扬州市", 119.412966, 32.394210},
	{"广州", "广州市", 113.264385, 23.129112},
	{"深圳", "深圳市", 114.057868, 22.543099},
	{"珠海", "珠海市", 113.576726, 22.270715},
	{"成都", "成都市", 104.066541, 30.572269},
	{"武汉", "武汉市", 114.305393, 30.593099},
	{"西安", "西安市", 108.939770, 34.341574},
	{"沈阳", "沈阳市", 123.431474, 41.805698},
	{"大连", "大连市", 121.614682, 38.914003},
	{"济南", "济南市", 117.120098, 36.651200},
	{"青岛", "青岛市", 120.382639, 36.067082},
	{"郑州", "郑州市", 113.625368, 34.746599},
	{"洛阳", "洛阳市", 112.454040, 34.619682},
	{"长沙", "长沙市", 112.938814, 28.228209},
	{"张家界", "张家界市", 110.479191, 29.117096},
	{"厦门", "厦门市", 118.089425, 24.479833},
	{"昆明", "昆明市", 102.832891, 24.880095},
	{"桂林", "桂林市", 110.290195, 25.273566},
	{"三亚", "三亚市", 109.511909, 18.252847},
	{"拉萨", "拉萨市", 91.140856, 29.645554},
	{"哈尔滨", "哈尔滨市", 126.534967, 45.803775},
}

// DefaultFallbackTable is the process-wide table.
var DefaultFallbackTable = NewFallbackTable(defaultFallbackEntries)

// NewFallbackTable copies entries; later changes to the slice are not seen.
func NewFallbackTable(entries []FallbackEntry) *FallbackTable {
	cp := make([]FallbackEntry, len(entries))
	copy(cp, entries)
	return &FallbackTable{entries: cp}
}

// Lookup returns the first entry whose key is contained in city.
func (t *FallbackTable) Lookup(city string) (FallbackEntry, bool) {
	city = strings.TrimSpace(city)
	if city == "" {
		return FallbackEntry{}, false
	}
	for _, e := range t.entries {
		if strings.Contains(city, e.Key) {
			return e, true
		}
	}
	return FallbackEntry{}, false
}

func (t *FallbackTable) Len() int { return len(t.entries) }
