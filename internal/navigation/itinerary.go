package navigation

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"webplanner/internal/geo"
	"webplanner/internal/storage"
	"webplanner/internal/utils"
)

// Leg 相邻两个已定位行程项之间的一段，失败时只有 Error
type Leg struct {
	FromID   string  `json:"from_id"`
	ToID     string  `json:"to_id"`
	From     string  `json:"from"`
	To       string  `json:"to"`
	Day      int     `json:"day"`
	Distance int     `json:"distance,omitempty"`
	Duration int     `json:"duration,omitempty"`
	Tolls    float64 `json:"tolls,omitempty"`
	Fallback bool    `json:"fallback,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// Advice 一段路程的文字建议
type Advice struct {
	From     string  `json:"from"`
	To       string  `json:"to"`
	Summary  string  `json:"summary"`
	Distance int     `json:"distance"`
	Duration int     `json:"duration"`
	Tolls    float64 `json:"tolls"`
}

func itemPoint(item storage.ItineraryItem) (geo.Point, bool) {
	if item.Coordinates == nil {
		return geo.Point{}, false
	}
	p := geo.Point{Longitude: item.Coordinates.Longitude, Latitude: item.Coordinates.Latitude}
	return p, p.Valid()
}

// ItineraryDistances computes one leg for every pair of consecutive stops
// that both carry coordinates, in itinerary order. Stops without
// coordinates are skipped. A failing leg records its own Error and never
// fails the others; only cancellation of ctx is returned as an error.
func (c *Client) ItineraryDistances(ctx context.Context, items []storage.ItineraryItem, mode Mode, city string) ([]Leg, error) {
	type stop struct {
		item  storage.ItineraryItem
		point geo.Point
	}
	var stops []stop
	for _, item := range items {
		if p, ok := itemPoint(item); ok {
			stops = append(stops, stop{item: item, point: p})
		}
	}
	if len(stops) < 2 {
		return []Leg{}, nil
	}

	legs := make([]Leg, len(stops)-1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for i := 0; i < len(stops)-1; i++ {
		from, to := stops[i], stops[i+1]
		legs[i] = Leg{
			FromID: from.item.ID,
			ToID:   to.item.ID,
			From:   from.item.Title,
			To:     to.item.Title,
			Day:    from.item.Day,
		}
		g.Go(func() error {
			sum, err := c.DistanceAndTime(gctx, Request{
				Origin:      from.point,
				Destination: to.point,
				Mode:        mode,
				City:        city,
			})
			if err != nil {
				c.logger.Warn(fmt.Sprintf("⚠️ [导航] 无法计算 %s 到 %s 的距离", from.item.Title, to.item.Title), "error", err)
				legs[i].Error = err.Error()
				return nil
			}
			legs[i].Distance = sum.Distance
			legs[i].Duration = sum.Duration
			legs[i].Tolls = sum.Tolls
			legs[i].Fallback = sum.Fallback
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return legs, nil
}

// BuildAdvice turns successful legs into readable summaries.
func BuildAdvice(legs []Leg) []Advice {
	advice := make([]Advice, 0, len(legs))
	for _, leg := range legs {
		if leg.Error != "" {
			continue
		}
		summary := fmt.Sprintf("从 %s 到 %s: %s，约%s",
			leg.From, leg.To,
			utils.FormatDistance(float64(leg.Distance)),
			utils.FormatTravelTime(time.Duration(leg.Duration)*time.Second))
		if leg.Fallback {
			summary += "（估算）"
		}
		advice = append(advice, Advice{
			From:     leg.From,
			To:       leg.To,
			Summary:  summary,
			Distance: leg.Distance,
			Duration: leg.Duration,
			Tolls:    leg.Tolls,
		})
	}
	return advice
}
