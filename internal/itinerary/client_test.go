package itinerary

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webplanner/config"
	"webplanner/internal/geo"
	"webplanner/internal/proxy/retry"
	"webplanner/internal/storage"
)

var testPolicy = retry.Policy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, Timeout: 2 * time.Second}

func newTestClient(t *testing.T, handler http.HandlerFunc, key string) (*Client, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	exec := retry.NewExecutor(server.Client(), retry.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	cfg := config.DeepSeekConfig{BaseURL: server.URL + "/v1/", Model: "deepseek-chat", Temperature: 0.7, MaxTokens: 4000}
	c := NewClient(cfg, func() string { return key }, exec, testPolicy)
	c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return c, &hits
}

func chatReply(content string) string {
	b, _ := json.Marshal(map[string]any{
		"id":    "chatcmpl-1",
		"model": "deepseek-chat",
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}, "finish_reason": "stop"},
		},
		"usage": map[string]int{"prompt_tokens": 100, "completion_tokens": 200, "total_tokens": 300},
	})
	return string(b)
}

func testTrip() *storage.Trip {
	return &storage.Trip{ID: "trip-1", Title: "南京两日游", Destination: "南京", StartDate: "2025-10-01", EndDate: "2025-10-02", Travelers: 2}
}

func TestGenerate_Success(t *testing.T) {
	var got chatRequest
	var auth string
	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, chatReply("```json\n{\"daily_itinerary\":[{\"day\":1,\"activities\":[{\"title\":\"中山陵\",\"location\":\"中山陵\"}]}]}\n```"))
	}, "sk-test")

	res, err := c.Generate(context.Background(), testTrip())
	require.NoError(t, err)

	assert.True(t, res.Parsed)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "中山陵", res.Items[0].Title)
	assert.Equal(t, 300, res.Usage.TotalTokens)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, int32(1), hits.Load())

	assert.Equal(t, "Bearer sk-test", auth)
	assert.Equal(t, "deepseek-chat", got.Model)
	assert.Equal(t, 0.7, got.Temperature)
	assert.Equal(t, 4000, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Contains(t, got.Messages[1].Content, "目的地：南京")
}

func TestGenerate_UnparseableReplyUsesSample(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, chatReply("今天天气不错"))
	}, "sk-test")

	res, err := c.Generate(context.Background(), testTrip())
	require.NoError(t, err)
	assert.False(t, res.Parsed)
	assert.Len(t, res.Items, len(SampleItinerary()))
}

func TestGenerate_MissingKey(t *testing.T) {
	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {}, "  ")

	_, err := c.Generate(context.Background(), testTrip())
	assert.ErrorIs(t, err, ErrMissingKey)
	assert.Equal(t, int32(0), hits.Load())
}

func TestGenerate_InvalidKeyIsTerminal(t *testing.T) {
	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"Authentication Fails (no such user)","type":"authentication_error"}}`)
	}, "sk-bad")

	_, err := c.Generate(context.Background(), testTrip())
	var te *retry.TerminalError
	require.True(t, errors.As(err, &te))
	assert.True(t, te.IsAuth())
	assert.Equal(t, "Authentication Fails (no such user)", te.Detail)
	assert.Equal(t, int32(1), hits.Load())
}

func TestGenerate_RecoversFromServerErrors(t *testing.T) {
	var n atomic.Int32
	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if n.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, chatReply(`[{"day":1,"title":"夫子庙"}]`))
	}, "sk-test")

	res, err := c.Generate(context.Background(), testTrip())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, int32(3), hits.Load())
}

func TestGenerate_ExhaustedRetries(t *testing.T) {
	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}, "sk-test")

	_, err := c.Generate(context.Background(), testTrip())
	assert.True(t, retry.IsExhausted(err))
	assert.Equal(t, int32(3), hits.Load())
}

func TestGenerate_EmptyChoices(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[]}`)
	}, "sk-test")

	_, err := c.Generate(context.Background(), testTrip())
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestValidateKey(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		_, _ = io.WriteString(w, `{"object":"list","data":[{"id":"deepseek-chat","object":"model","owned_by":"deepseek"}]}`)
	}, "sk-test")

	models, err := c.ValidateKey(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "deepseek-chat", models[0].ID)
}

func TestWorstCaseLatency(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {}, "k")
	assert.Equal(t, testPolicy.WorstCaseLatency(), c.WorstCaseLatency())
}

type fakeLocator struct {
	queries []geo.Query
}

func (f *fakeLocator) ResolveAll(ctx context.Context, queries []geo.Query) ([]geo.BatchResult, error) {
	f.queries = queries
	out := make([]geo.BatchResult, len(queries))
	for i, q := range queries {
		out[i].Query = q
		switch q.Address {
		case "中山陵":
			out[i].Location = &geo.Location{Longitude: 118.848, Latitude: 32.058, Source: geo.SourceRemote}
		case "夫子庙":
			out[i].Location = &geo.Location{Longitude: 118.796, Latitude: 32.060, Approximate: true, Source: geo.SourceFallback}
		default:
			out[i].Err = &geo.ResolutionFailedError{Address: q.Address}
		}
	}
	return out, nil
}

func TestLocate(t *testing.T) {
	items := []storage.ItineraryItem{
		{Title: "a", Location: "中山陵"},
		{Title: "b", Location: ""},
		{Title: "c", Location: "夫子庙"},
		{Title: "d", Location: "某不存在地点"},
	}
	loc := &fakeLocator{}

	summary, err := Locate(context.Background(), loc, "南京", items)
	require.NoError(t, err)
	assert.Equal(t, LocateSummary{Resolved: 1, Approximate: 1, Failed: 1, Skipped: 1}, summary)

	require.Len(t, loc.queries, 3)
	assert.Equal(t, "南京", loc.queries[0].CityHint)

	require.NotNil(t, items[0].Coordinates)
	assert.False(t, items[0].Coordinates.Approximate)
	assert.Nil(t, items[1].Coordinates)
	assert.True(t, items[2].Coordinates.Approximate)
	assert.Nil(t, items[3].Coordinates)
}
