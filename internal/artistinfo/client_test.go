package artistinfo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/melodyhq/melody/internal/domain"
	"go.uber.org/zap"
)

func completionBody(t *testing.T, content string) []byte {
	t.Helper()
	resp := map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	}
	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("failed to marshal completion body: %v", err)
	}
	return b
}

func TestClient_ArtistInfo(t *testing.T) {
	validPayload := `{"summary":"A band.","background":"Formed long ago.","style":"Rock.","achievements":"Many.","funFact":"Yes."}`

	tests := []struct {
		name          string
		apiKey        string
		status        int
		body          func(t *testing.T) []byte
		expectedError string
		expected      domain.ArtistInfo
	}{
		{
			name:   "Success - Valid JSON Payload",
			apiKey: "test-key",
			status: http.StatusOK,
			body:   func(t *testing.T) []byte { return completionBody(t, validPayload) },
			expected: domain.ArtistInfo{
				Summary:      "A band.",
				Background:   "Formed long ago.",
				Style:        "Rock.",
				Achievements: "Many.",
				FunFact:      "Yes.",
			},
		},
		{
			name:          "Error - Missing API Key",
			apiKey:        "",
			status:        http.StatusOK,
			body:          func(t *testing.T) []byte { return completionBody(t, validPayload) },
			expectedError: "api key not configured",
		},
		{
			name:          "Error - Upstream Failure",
			apiKey:        "test-key",
			status:        http.StatusInternalServerError,
			body:          func(t *testing.T) []byte { return []byte(`{}`) },
			expectedError: "unexpected status 500",
		},
		{
			name:          "Error - Non-JSON Content",
			apiKey:        "test-key",
			status:        http.StatusOK,
			body:          func(t *testing.T) []byte { return completionBody(t, "not json at all") },
			expectedError: "decode payload",
		},
		{
			name:          "Error - Empty Choices",
			apiKey:        "test-key",
			status:        http.StatusOK,
			body:          func(t *testing.T) []byte { return []byte(`{"choices":[]}`) },
			expectedError: "empty response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if got := r.Header.Get("Authorization"); tt.apiKey != "" && got != "Bearer "+tt.apiKey {
					t.Errorf("unexpected auth header: %q", got)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write(tt.body(t))
			}))
			defer srv.Close()

			c := NewClient(zap.NewNop(), srv.URL, tt.apiKey, "test-model")

			info, cached, err := c.ArtistInfo(context.Background(), "Led Zeppelin")

			if tt.expectedError != "" {
				if err == nil || !strings.Contains(err.Error(), tt.expectedError) {
					t.Fatalf("expected error containing %q, got %v", tt.expectedError, err)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cached {
				t.Error("first fetch should not be cached")
			}
			if info != tt.expected {
				t.Errorf("unexpected payload: %+v", info)
			}
		})
	}
}

func TestClient_CachesByNormalizedName(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		_, _ = w.Write(completionBody(t, `{"summary":"s","background":"b","style":"st","achievements":"a","funFact":"f"}`))
	}))
	defer srv.Close()

	c := NewClient(zap.NewNop(), srv.URL, "key", "model")

	if _, cached, err := c.ArtistInfo(context.Background(), "Radiohead"); err != nil || cached {
		t.Fatalf("first call: cached=%v err=%v", cached, err)
	}
	// Same artist, different casing and whitespace
	if _, cached, err := c.ArtistInfo(context.Background(), "  RADIOHEAD "); err != nil || !cached {
		t.Fatalf("second call: cached=%v err=%v", cached, err)
	}
	if got := atomic.LoadInt64(&hits); got != 1 {
		t.Errorf("expected 1 upstream call, got %d", got)
	}
}

func TestClient_MissingKeyIsSentinel(t *testing.T) {
	c := NewClient(zap.NewNop(), "http://unused", "", "model")
	_, _, err := c.ArtistInfo(context.Background(), "Someone")
	if !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("expected ErrNoAPIKey, got %v", err)
	}
}

func TestCache_TTLAndEviction(t *testing.T) {
	t.Run("Expired entries are not returned", func(t *testing.T) {
		c := NewCache()
		now := time.Now()
		c.now = func() time.Time { return now }

		c.Set("a", domain.ArtistInfo{Summary: "old"})

		now = now.Add(cacheTTL + time.Minute)
		if _, ok := c.Get("a"); ok {
			t.Error("expected expired entry to be dropped")
		}
	})

	t.Run("Oldest batch evicted beyond capacity", func(t *testing.T) {
		c := NewCache()
		now := time.Now()
		c.now = func() time.Time { return now }

		for i := 0; i <= cacheCapacity; i++ {
			c.Set(fmt.Sprintf("artist-%03d", i), domain.ArtistInfo{})
			now = now.Add(time.Second)
		}

		if got := c.Len(); got != cacheCapacity+1-cacheEvictBatch {
			t.Errorf("expected %d entries after eviction, got %d", cacheCapacity+1-cacheEvictBatch, got)
		}
		// The oldest keys must be gone, the newest retained
		if _, ok := c.Get("artist-000"); ok {
			t.Error("expected oldest entry to be evicted")
		}
		if _, ok := c.Get(fmt.Sprintf("artist-%03d", cacheCapacity)); !ok {
			t.Error("expected newest entry to survive eviction")
		}
	})
}
