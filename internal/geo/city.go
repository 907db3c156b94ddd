package geo

import (
	"regexp"
	"strings"
)

// cityPattern 一组同省城市的匹配规则，按声明顺序尝试
type cityPattern struct {
	group   string
	pattern *regexp.Regexp
}

func cityGroup(group string, cities ...string) cityPattern {
	alts := make([]string, len(cities))
	for i, c := range cities {
		alts[i] = regexp.QuoteMeta(c) + "[市]?"
	}
	return cityPattern{group: group, pattern: regexp.MustCompile("(" + strings.Join(alts, "|") + ")")}
}

// defaultCityPatterns 直辖市优先，之后按省份分组
var defaultCityPatterns = []cityPattern{
	cityGroup("直辖市", "北京", "上海", "天津", "重庆"),
	cityGroup("江浙", "南京", "杭州", "苏州", "无锡", "常州", "镇江", "扬州", "南通", "泰州", "盐城", "淮安", "连云港", "宿迁", "徐州"),
	cityGroup("广东", "广州", "深圳", "珠海", "汕头", "佛山", "韶关", "湛江", "肇庆", "江门", "茂名", "惠州", "梅州", "汕尾", "河源", "阳江", "清远", "东莞", "中山", "潮州", "揭阳", "云浮"),
	cityGroup("四川", "成都", "绵阳", "德阳", "南充", "宜宾", "自贡", "乐山", "泸州", "达州", "内江", "遂宁", "攀枝花", "眉山", "广安", "资阳", "雅安", "巴中"),
	cityGroup("湖北", "武汉", "黄石", "十堰", "宜昌", "襄阳", "鄂州", "荆门", "孝感", "荆州", "黄冈", "咸宁", "随州", "恩施"),
	cityGroup("陕西", "西安", "铜川", "宝鸡", "咸阳", "渭南", "延安", "汉中", "榆林", "安康", "商洛"),
	cityGroup("辽宁", "沈阳", "大连", "鞍山", "抚顺", "本溪", "丹东", "锦州", "营口", "阜新", "辽阳", "盘锦", "铁岭", "朝阳", "葫芦岛"),
	cityGroup("山东", "济南", "青岛", "淄博", "枣庄", "东营", "烟台", "潍坊", "济宁", "泰安", "威海", "日照", "临沂", "德州", "聊城", "滨州", "菏泽"),
	cityGroup("河南", "郑州", "开封", "洛阳", "平顶山", "安阳", "鹤壁", "新乡", "焦作", "濮阳", "许昌", "漯河", "三门峡", "南阳", "商丘", "信阳", "周口", "驻马店"),
	cityGroup("湖南", "长沙", "株洲", "湘潭", "衡阳", "邵阳", "岳阳", "常德", "张家界", "益阳", "郴州", "永州", "怀化", "娄底", "湘西"),
}

// Scope is the city context a query is resolved in.
type Scope struct {
	City   string // 匹配到的城市，或未匹配时的整个输入
	Group  string // 命中的分组，未匹配时为空
	Scoped bool   // false 表示退化为不限城市的解析
}

// CityExtractor finds a city name in free text. The first pattern in
// declaration order that matches wins; within a pattern the leftmost
// match wins.
type CityExtractor struct {
	patterns []cityPattern
}

func NewCityExtractor() *CityExtractor {
	return &CityExtractor{patterns: defaultCityPatterns}
}

// Extract returns the scope for text. Without a match the whole trimmed
// input becomes the scope and Scoped is false.
func (e *CityExtractor) Extract(text string) Scope {
	text = strings.TrimSpace(text)
	for _, p := range e.patterns {
		if m := p.pattern.FindStringSubmatch(text); m != nil {
			return Scope{City: m[1], Group: p.group, Scoped: true}
		}
	}
	return Scope{City: text}
}

// Groups lists the pattern groups in evaluation order.
func (e *CityExtractor) Groups() []string {
	out := make([]string, len(e.patterns))
	for i, p := range e.patterns {
		out[i] = p.group
	}
	return out
}
