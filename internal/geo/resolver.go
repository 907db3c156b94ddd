package geo

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"webplanner/internal/proxy/retry"
)

const (
	SourceRemote   = "remote"
	SourceFallback = "fallback"
	SourceFailed   = "failed"
)

// Query 一个待解析的地点
type Query struct {
	Address  string `json:"address"`
	CityHint string `json:"city_hint,omitempty"`
}

// Location 解析结果。Approximate 为 true 表示坐标来自兜底表（城市中心点）
type Location struct {
	Longitude         float64 `json:"longitude"`
	Latitude          float64 `json:"latitude"`
	NormalizedAddress string  `json:"normalized_address"`
	Approximate       bool    `json:"approximate"`
	City              string  `json:"city,omitempty"`
	Source            string  `json:"source"`
	Provider          string  `json:"provider,omitempty"`
}

// BatchResult is one entry of a batch resolution.
type BatchResult struct {
	Query    Query     `json:"query"`
	Location *Location `json:"location,omitempty"`
	Err      error     `json:"-"`
}

// ResolutionRecorder is notified once per finished resolution.
type ResolutionRecorder interface {
	RecordResolution(source string)
}

// Resolver turns place names into coordinates. Each call re-resolves;
// nothing is cached between calls.
type Resolver struct {
	geocoder    Geocoder
	extractor   *CityExtractor
	fallback    *FallbackTable
	recorder    ResolutionRecorder
	logger      *slog.Logger
	concurrency int
}

type ResolverOption func(*Resolver)

func WithFallbackTable(t *FallbackTable) ResolverOption {
	return func(r *Resolver) { r.fallback = t }
}

func WithResolutionRecorder(rec ResolutionRecorder) ResolverOption {
	return func(r *Resolver) { r.recorder = rec }
}

func WithResolverLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = l }
}

// WithConcurrency bounds ResolveAll. Values below 1 mean 1.
func WithConcurrency(n int) ResolverOption {
	return func(r *Resolver) {
		if n < 1 {
			n = 1
		}
		r.concurrency = n
	}
}

func NewResolver(geocoder Geocoder, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		geocoder:    geocoder,
		extractor:   NewCityExtractor(),
		fallback:    DefaultFallbackTable,
		logger:      slog.Default(),
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// scope picks the city context. An explicit hint wins over extraction from
// the address; a hint that names a known city is reduced to that city.
func (r *Resolver) scope(address, hint string) Scope {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return r.extractor.Extract(address)
	}
	if s := r.extractor.Extract(hint); s.Scoped {
		return s
	}
	return Scope{City: hint, Scoped: true}
}

// Resolve returns a remote-resolved location, or an approximate one from the
// fallback table when the geocoder fails. Cancellation is returned as-is and
// never falls back. When both steps fail the error is a
// *ResolutionFailedError.
func (r *Resolver) Resolve(ctx context.Context, address, cityHint string) (*Location, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		r.record(SourceFailed)
		return nil, &ResolutionFailedError{Address: address, City: cityHint, Cause: ErrEmptyQuery}
	}

	scope := r.scope(address, cityHint)
	city := ""
	if scope.Scoped {
		city = scope.City
	}

	res, err := r.geocode(ctx, address, city)
	if err == nil {
		r.record(SourceRemote)
		r.logger.Debug("📍 [地址解析] 远程解析成功",
			"address", address,
			"city", city,
			"provider", r.geocoder.Name(),
			"lng", res.Longitude,
			"lat", res.Latitude)
		normalized := res.FormattedAddress
		if normalized == "" {
			normalized = address
		}
		resolvedCity := res.City
		if resolvedCity == "" {
			resolvedCity = city
		}
		return &Location{
			Longitude:         res.Longitude,
			Latitude:          res.Latitude,
			NormalizedAddress: normalized,
			City:              resolvedCity,
			Source:            SourceRemote,
			Provider:          r.geocoder.Name(),
		}, nil
	}

	if cancelled := asCancelled(ctx, err); cancelled != nil {
		r.logger.Info("🚫 [地址解析] 调用方取消", "address", address)
		return nil, cancelled
	}

	// 远程失败，只查一次兜底表
	if entry, ok := r.fallback.Lookup(scope.City); ok {
		r.record(SourceFallback)
		r.logger.Warn("⚠️ [地址解析] 远程解析失败，使用城市中心近似坐标",
			"address", address,
			"city", entry.Name,
			"error", err)
		return &Location{
			Longitude:         entry.Longitude,
			Latitude:          entry.Latitude,
			NormalizedAddress: entry.Name,
			Approximate:       true,
			City:              entry.Name,
			Source:            SourceFallback,
		}, nil
	}

	r.record(SourceFailed)
	r.logger.Error("❌ [地址解析] 解析失败且无兜底坐标",
		"address", address,
		"city", scope.City,
		"error", err)
	return nil, &ResolutionFailedError{Address: address, City: scope.City, Cause: err}
}

func (r *Resolver) geocode(ctx context.Context, address, city string) (GeocodeResult, error) {
	if r.geocoder == nil {
		return GeocodeResult{}, ErrMissingKey
	}
	res, err := r.geocoder.Geocode(ctx, address, city)
	if err != nil {
		return GeocodeResult{}, err
	}
	if !res.Valid() {
		return GeocodeResult{}, ErrNoResult
	}
	return res, nil
}

func asCancelled(ctx context.Context, err error) error {
	var ce *retry.CancelledError
	if errors.As(err, &ce) {
		return ce
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &retry.CancelledError{Err: ctxErr}
	}
	return nil
}

func (r *Resolver) record(source string) {
	if r.recorder != nil {
		r.recorder.RecordResolution(source)
	}
}

// ResolveAll resolves queries concurrently. Results keep the input order and
// one failing query never affects the others. The returned error is non-nil
// only when ctx was cancelled.
func (r *Resolver) ResolveAll(ctx context.Context, queries []Query) ([]BatchResult, error) {
	out := make([]BatchResult, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for i, q := range queries {
		out[i].Query = q
		g.Go(func() error {
			loc, err := r.Resolve(gctx, q.Address, q.CityHint)
			out[i].Location = loc
			out[i].Err = err
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return out, &retry.CancelledError{Err: err}
	}
	return out, nil
}
