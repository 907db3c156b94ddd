package itinerary

import (
	"context"
	"strings"

	"webplanner/internal/geo"
	"webplanner/internal/storage"
)

// Locator resolves several places concurrently.
type Locator interface {
	ResolveAll(ctx context.Context, queries []geo.Query) ([]geo.BatchResult, error)
}

// LocateSummary 坐标补全统计
type LocateSummary struct {
	Resolved    int `json:"resolved"`
	Approximate int `json:"approximate"`
	Failed      int `json:"failed"`
	Skipped     int `json:"skipped"`
}

// Locate fills Coordinates for every item that names a location, using the
// trip destination as city hint. Items that cannot be resolved keep nil
// coordinates; the rest of the itinerary is unaffected.
func Locate(ctx context.Context, locator Locator, destination string, items []storage.ItineraryItem) (LocateSummary, error) {
	var (
		summary LocateSummary
		queries []geo.Query
		index   []int
	)
	for i, it := range items {
		if strings.TrimSpace(it.Location) == "" {
			summary.Skipped++
			continue
		}
		queries = append(queries, geo.Query{Address: it.Location, CityHint: destination})
		index = append(index, i)
	}
	if len(queries) == 0 {
		return summary, nil
	}

	results, err := locator.ResolveAll(ctx, queries)
	for k, r := range results {
		item := &items[index[k]]
		if r.Err != nil || r.Location == nil {
			summary.Failed++
			continue
		}
		item.Coordinates = &storage.Coordinates{
			Longitude:   r.Location.Longitude,
			Latitude:    r.Location.Latitude,
			Approximate: r.Location.Approximate,
		}
		if r.Location.Approximate {
			summary.Approximate++
		} else {
			summary.Resolved++
		}
	}
	return summary, err
}
