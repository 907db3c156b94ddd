package navigation

import (
	"math"

	"webplanner/internal/geo"
)

const earthRadiusMeters = 6371008.8

// 直线距离换算为道路距离的系数与平均速度(米/秒)
var estimateProfiles = map[Mode]struct {
	detour float64
	speed  float64
}{
	Driving: {detour: 1.4, speed: 30 / 3.6},
	Transit: {detour: 1.3, speed: 18 / 3.6},
	Walking: {detour: 1.2, speed: 4.8 / 3.6},
}

// Haversine returns the great-circle distance between two points in meters.
func Haversine(a, b geo.Point) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLng := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// EstimateRoute builds a single-step route from the straight-line distance.
// The result is deterministic for the same input.
func EstimateRoute(origin, destination geo.Point, mode Mode) Route {
	profile, ok := estimateProfiles[mode]
	if !ok {
		profile = estimateProfiles[Driving]
	}
	distance := int(math.Round(Haversine(origin, destination) * profile.detour))
	duration := int(math.Round(float64(distance) / profile.speed))
	if distance > 0 && duration < 60 {
		duration = 60
	}
	return Route{
		Mode:     mode,
		Distance: distance,
		Duration: duration,
		Steps: []Step{{
			Instruction: "按直线距离估算，请以实际路线为准",
			Action:      "前往",
			Distance:    distance,
			Duration:    duration,
		}},
		Fallback: true,
	}
}
