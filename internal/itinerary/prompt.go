package itinerary

import (
	"fmt"
	"strings"

	"webplanner/internal/storage"
)

const systemPrompt = "你是一个专业的旅行规划师，擅长根据用户需求制定详细、实用的旅行行程。请以JSON格式返回生成的行程数据."

var (
	paceText = map[string]string{
		"slow":     "悠闲慢游",
		"moderate": "适中节奏",
		"fast":     "紧凑高效",
	}
	accommodationText = map[string]string{
		"hostel":    "青年旅舍",
		"hotel":     "酒店",
		"apartment": "公寓",
		"luxury":    "豪华酒店",
	}
	transportationText = map[string]string{
		"public": "公共交通",
		"car":    "自驾",
		"mixed":  "混合方式",
	}
	foodText = map[string]string{
		"local":         "当地美食",
		"international": "国际美食",
		"budget":        "经济实惠",
		"luxury":        "高档餐厅",
	}
)

func lookupText(m map[string]string, key, fallback string) string {
	if v, ok := m[key]; ok {
		return v
	}
	return fallback
}

func specialNeeds(p storage.Preferences) string {
	var needs []string
	if p.Accessibility {
		needs = append(needs, "无障碍设施")
	}
	if p.PetFriendly {
		needs = append(needs, "宠物友好")
	}
	if p.FamilyFriendly {
		needs = append(needs, "家庭友好")
	}
	if len(needs) == 0 {
		return "无"
	}
	return strings.Join(needs, "、")
}

// BuildPrompt renders the user message for a trip.
func BuildPrompt(trip *storage.Trip) string {
	days := trip.Duration
	if days <= 0 {
		days = trip.CalculateDuration()
	}
	if days <= 0 {
		days = 1
	}

	budget := "未指定"
	if trip.Budget > 0 {
		budget = fmt.Sprintf("%g元", trip.Budget)
	}
	description := trip.Description
	if strings.TrimSpace(description) == "" {
		description = "无特殊描述"
	}
	interests := "未指定"
	if len(trip.Preferences.Interests) > 0 {
		interests = strings.Join(trip.Preferences.Interests, "、")
	}
	travelers := trip.Travelers
	if travelers < 1 {
		travelers = 1
	}

	var b strings.Builder
	fmt.Fprintf(&b, "请为以下旅行需求生成详细的%d天行程：\n\n", days)
	fmt.Fprintf(&b, "旅行标题：%s\n", trip.Title)
	fmt.Fprintf(&b, "目的地：%s\n", trip.Destination)
	fmt.Fprintf(&b, "旅行日期：%s 至 %s（共%d天）\n", trip.StartDate, trip.EndDate, days)
	fmt.Fprintf(&b, "预算：%s\n", budget)
	fmt.Fprintf(&b, "旅行人数：%d人\n", travelers)
	fmt.Fprintf(&b, "旅行描述：%s\n\n", description)

	b.WriteString("旅行偏好：\n")
	fmt.Fprintf(&b, "- 兴趣：%s\n", interests)
	fmt.Fprintf(&b, "- 节奏：%s\n", lookupText(paceText, trip.Preferences.Pace, "适中节奏"))
	fmt.Fprintf(&b, "- 住宿：%s\n", lookupText(accommodationText, trip.Preferences.Accommodation, "酒店"))
	fmt.Fprintf(&b, "- 交通：%s\n", lookupText(transportationText, trip.Preferences.Transportation, "混合方式"))
	fmt.Fprintf(&b, "- 餐饮：%s\n", lookupText(foodText, trip.Preferences.Food, "当地美食"))
	fmt.Fprintf(&b, "- 特殊需求：%s\n\n", specialNeeds(trip.Preferences))

	b.WriteString(`请以JSON格式返回生成的行程数据，包含每天的详细安排。每个行程项应包括：
- day: 第几天
- date: 具体日期
- time: 时间段（如"09:00-12:00"）
- title: 活动标题
- description: 详细描述
- location: 具体地点
- category: 活动类别（sightseeing/dining/accommodation/transportation/activity）
- duration: 持续时间（分钟）
- cost: 预估费用
- notes: 注意事项

请确保行程安排合理、符合用户偏好，并考虑预算限制。`)
	return b.String()
}
