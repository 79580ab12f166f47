package integration

import (
	"net/http"
	"testing"
)

type cacheSetResponse struct {
	Success bool `json:"success"`
}

type cacheGetResponse struct {
	Value interface{} `json:"value"`
	Hit   bool        `json:"hit"`
}

type cacheInvalidateResponse struct {
	Invalidated int `json:"invalidated"`
}

type cacheMetricsResponse struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
}

func TestCacheManagerEndpoints(t *testing.T) {
	requireService(t)

	t.Run("PUT /cache/:key", func(t *testing.T) {
		status, body := doJSON(t, http.MethodPut, "/cache/test:user:123", map[string]any{
			"key":   "test:user:123",
			"value": map[string]any{"name": "John Doe", "age": 30},
			"ttl":   60,
		})
		assertStatusIn(t, status, 200)

		var resp cacheSetResponse
		mustUnmarshalJSON(t, body, &resp)
		if !resp.Success {
			t.Fatalf("expected success=true, got false")
		}
	})

	t.Run("GET /cache/:key", func(t *testing.T) {
		status, body := doJSON(t, http.MethodGet, "/cache/test:user:123", nil)
		assertStatusIn(t, status, 200)

		var resp cacheGetResponse
		mustUnmarshalJSON(t, body, &resp)
		if !resp.Hit {
			t.Fatalf("expected hit=true")
		}
		if resp.Value == nil {
			t.Fatalf("expected value to be present")
		}
	})

	t.Run("GET miss returns hit=false", func(t *testing.T) {
		status, body := doJSON(t, http.MethodGet, "/cache/test:missing:key", nil)
		assertStatusIn(t, status, 200)

		var resp cacheGetResponse
		mustUnmarshalJSON(t, body, &resp)
		if resp.Hit {
			t.Fatalf("expected hit=false for an unset key with no origin fetcher configured")
		}
	})

	t.Run("POST /cache/invalidate", func(t *testing.T) {
		status, body := doJSON(t, http.MethodPost, "/cache/invalidate", map[string]any{
			"keys": []string{"test:user:123"},
		})
		assertStatusIn(t, status, 200)

		var resp cacheInvalidateResponse
		mustUnmarshalJSON(t, body, &resp)
		if resp.Invalidated < 0 {
			t.Fatalf("expected invalidated >= 0")
		}
	})

	t.Run("GET /cache/metrics", func(t *testing.T) {
		status, body := doJSON(t, http.MethodGet, "/cache/metrics", nil)
		assertStatusIn(t, status, 200)

		var resp cacheMetricsResponse
		mustUnmarshalJSON(t, body, &resp)
		if resp.Hits < 0 || resp.Misses < 0 || resp.Sets < 0 {
			t.Fatalf("expected non-negative counters")
		}
	})
}
