package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harun/crew/pkg/runerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) (*TavilyProvider, *int32) {
	t.Helper()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	p, err := NewTavilyProvider(TavilyConfig{
		APIKey:     "tvly-test",
		BaseURL:    server.URL,
		MaxResults: 3,
	})
	require.NoError(t, err)
	return p, &calls
}

func TestNewTavilyProvider_RequiresKey(t *testing.T) {
	_, err := NewTavilyProvider(TavilyConfig{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, runerr.ErrMissingCredential))
}

func TestTavilyProvider_Invoke(t *testing.T) {
	var gotPayload map[string]any
	p, calls := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer tvly-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]string{
				{"title": "Acme raises Series B", "url": "https://news.test/acme", "content": "Acme raised $40M."},
				{"title": "Acme about", "url": "https://acme.test/about", "content": "Founded 2019."},
				{"title": "Acme jobs", "url": "https://acme.test/jobs", "content": "Hiring."},
				{"title": "Extra", "url": "https://extra.test", "content": "dropped"},
			},
		})
	})

	results, err := p.Invoke(context.Background(), "Acme funding", 10)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
	assert.Len(t, results, 3)
	assert.Equal(t, "Acme raises Series B", results[0].Title)
	assert.Equal(t, "Acme raised $40M.", results[0].Snippet)
	assert.Equal(t, "https://news.test/acme", results[0].URL)
	assert.Equal(t, "Acme funding", gotPayload["query"])
	assert.Equal(t, float64(3), gotPayload["max_results"])
}

func TestTavilyProvider_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		header    map[string]string
		wantKind  error
		wantWait  time.Duration
		transient bool
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, header: map[string]string{"Retry-After": "2"}, wantKind: runerr.ErrToolQuotaExceeded, wantWait: 2 * time.Second, transient: true},
		{name: "plan limit", status: 432, wantKind: runerr.ErrToolQuotaExceeded, transient: true},
		{name: "server error", status: http.StatusServiceUnavailable, wantKind: runerr.ErrToolUnavailable, transient: true},
		{name: "bad request", status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, calls := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"detail":"nope"}`))
			})

			_, err := p.Invoke(context.Background(), "Acme", 2)
			require.Error(t, err)
			assert.Equal(t, int32(1), atomic.LoadInt32(calls), "no internal retries")
			assert.Equal(t, tt.transient, runerr.IsTransient(err))
			if tt.wantKind != nil {
				assert.True(t, errors.Is(err, tt.wantKind))
			}
			if tt.wantWait > 0 {
				wait, ok := runerr.RetryAfter(err)
				require.True(t, ok)
				assert.Equal(t, tt.wantWait, wait)
			}
		})
	}
}

func TestTavilyProvider_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	p, err := NewTavilyProvider(TavilyConfig{APIKey: "tvly-test", BaseURL: url})
	require.NoError(t, err)

	_, err = p.Invoke(context.Background(), "Acme", 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, runerr.ErrToolUnavailable))
}

func TestTavilyProvider_EmptyQuery(t *testing.T) {
	p, calls := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {})

	_, err := p.Invoke(context.Background(), "", 1)
	assert.Error(t, err)
	assert.Equal(t, int32(0), atomic.LoadInt32(calls))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, DefaultMaxResults, Clamp(0, 10))
	assert.Equal(t, 3, Clamp(7, 3))
	assert.Equal(t, HardMaxResults, Clamp(100, 0))
	assert.Equal(t, HardMaxResults, Clamp(100, 500))
	assert.Equal(t, 2, Clamp(2, 5))
}

func TestTavilyProvider_RateLimit(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_ = json.NewEncoder(w).Encode(map[string]any{"results": []map[string]string{}})
	}))
	t.Cleanup(server.Close)

	p, err := NewTavilyProvider(TavilyConfig{
		APIKey:        "tvly-test",
		BaseURL:       server.URL,
		MaxResults:    3,
		RatePerSecond: 0.01,
		Burst:         1,
	})
	require.NoError(t, err)

	_, err = p.Invoke(context.Background(), "first", 3)
	require.NoError(t, err)

	t.Run("wait past the deadline is tool unavailable", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		_, err := p.Invoke(ctx, "second", 3)
		require.Error(t, err)
		assert.True(t, errors.Is(err, runerr.ErrToolUnavailable))
		assert.Equal(t, "ToolUnavailable", runerr.Kind(err))
	})

	t.Run("cancelled caller keeps its own error", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := p.Invoke(ctx, "third", 3)
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
		assert.False(t, errors.Is(err, runerr.ErrToolUnavailable))
	})

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
