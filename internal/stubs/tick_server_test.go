package stubs_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/sensex-scalper/internal/feed"
	"github.com/Rajchodisetti/sensex-scalper/internal/indicator"
	"github.com/Rajchodisetti/sensex-scalper/internal/stubs"
	"github.com/Rajchodisetti/sensex-scalper/internal/transport"
)

func session(t *testing.T, n int) []indicator.Observation {
	t.Helper()
	ist := time.FixedZone("IST", 5*3600+1800)
	return feed.Simulate(feed.SimConfig{
		Seed:      7,
		Start:     time.Date(2024, 3, 4, 9, 15, 0, 0, ist),
		Steps:     n,
		Interval:  time.Minute,
		BasePrice: 80000,
		Strikes:   3,
	})
}

func TestStreamDeliversSessionInOrder(t *testing.T) {
	obs := session(t, 25)
	srv, err := stubs.NewTickServer(obs, 0)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client := transport.NewWSClient(transport.Config{
		URL:       "ws" + strings.TrimPrefix(ts.URL, "http") + "/ticks",
		Reconnect: transport.ReconnectConfig{InitialDelayMs: 10, MaxDelayMs: 20},
	})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stream, err := feed.NewStream(ctx, client, 2*time.Second)
	require.NoError(t, err)

	for i, want := range obs {
		got, err := stream.Next(ctx)
		require.NoError(t, err, "tick %d", i)
		assert.True(t, want.Timestamp.Equal(got.Timestamp), "tick %d timestamp", i)
		assert.InDelta(t, want.Price, got.Price, 1e-9)
		assert.Equal(t, want.OpenInterest, got.OpenInterest)
	}
	assert.Equal(t, "25", client.LastEventID())
}

func TestBackfill(t *testing.T) {
	srv, err := stubs.NewTickServer(session(t, 10), 0)
	require.NoError(t, err)
	h := srv.Handler()

	tests := []struct {
		query   string
		first   string
		count   int
		hasMore bool
	}{
		{"", "1", 10, false},
		{"?since_id=4&limit=3", "5", 3, true},
		{"?since_id=8", "9", 2, false},
		{"?since_id=99", "", 0, false},
		{"?since_id=abc&limit=-1", "1", 10, false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/backfill"+tt.query, nil))
			require.Equal(t, http.StatusOK, rec.Code)

			var resp stubs.BackfillResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.count, resp.Count)
			assert.Equal(t, 10, resp.Total)
			assert.Equal(t, tt.hasMore, resp.HasMore)
			if tt.count > 0 {
				assert.Equal(t, tt.first, resp.Events[0].ID)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	srv, err := stubs.NewTickServer(nil, 0)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, srv.Len())
}
