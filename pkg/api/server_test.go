package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssargent/ringrelay/pkg/flowstats"
	"github.com/ssargent/ringrelay/pkg/ringbuf"
)

type fakeStats struct{}

func (fakeStats) Snapshots() []flowstats.Snapshot {
	return []flowstats.Snapshot{{ID: 1, Name: "push", State: "RUNNING", Records: 5}}
}

func (fakeStats) Rings() []ringbuf.Stats {
	return []ringbuf.Stats{{Name: "rb1", CapacityWords: 100, UsedWords: 10, Records: 2}}
}

func TestServer_Health(t *testing.T) {
	srv := NewServer(ServerConfig{}, NewMetrics(), fakeStats{}, nil)

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Success bool           `json:"success"`
		Data    HealthResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "ok", resp.Data.Status)
	assert.Equal(t, 1, resp.Data.Relays)
}

func TestServer_Stats(t *testing.T) {
	metrics := NewMetrics()
	srv := NewServer(ServerConfig{}, metrics, fakeStats{}, nil)

	req := httptest.NewRequest("GET", "/api/v1/stats", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data StatsResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Data.Relays, 1)
	assert.Equal(t, uint64(5), resp.Data.Relays[0].Records)
	require.Len(t, resp.Data.Rings, 1)
	assert.Equal(t, "rb1", resp.Data.Rings[0].Name)
}

func TestServer_ScrapeRefreshesRings(t *testing.T) {
	srv := NewServer(ServerConfig{}, NewMetrics(), fakeStats{}, nil)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `ringrelay_ring_used_words{ring="rb1"} 10`)
	assert.Contains(t, body, `ringrelay_ring_capacity_words{ring="rb1"} 100`)
	assert.Contains(t, body, `ringrelay_ring_records{ring="rb1"} 2`)
}

func TestServer_StatsWithoutProvider(t *testing.T) {
	srv := NewServer(ServerConfig{}, NewMetrics(), nil, nil)

	req := httptest.NewRequest("GET", "/api/v1/stats", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServer_APIKey(t *testing.T) {
	srv := NewServer(ServerConfig{APIKey: "secret"}, NewMetrics(), fakeStats{}, nil)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid key", "secret", http.StatusOK},
		{"missing key", "", http.StatusUnauthorized},
		{"wrong key", "nope", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/health", nil)
			if tt.header != "" {
				req.Header.Set("X-API-Key", tt.header)
			}
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}

	// metrics stay open for scraping
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetrics_RelayCounters(t *testing.T) {
	m := NewMetrics()
	m.RecordRecord("push", "EVENT", 100)
	m.RecordRecord("push", "EVENT", 50)
	m.RecordDrop("push", "send")
	m.RecordReconnect("push", true)
	m.RecordTerminate("push")
	m.SetRelayState("push", 2)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	body := w.Body.String()

	for _, want := range []string{
		`ringrelay_records_total{relay="push",type="EVENT"} 2`,
		`ringrelay_bytes_total{relay="push"} 150`,
		`ringrelay_dropped_records_total{reason="send",relay="push"} 1`,
		`ringrelay_reconnects_total{relay="push",status="success"} 1`,
		`ringrelay_terminates_total{relay="push"} 1`,
		`ringrelay_relay_state{relay="push"} 2`,
	} {
		assert.True(t, strings.Contains(body, want), "missing %s", want)
	}
}
