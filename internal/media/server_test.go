package media

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMediaServer implements the media server control API in memory.
type fakeMediaServer struct {
	mu      sync.Mutex
	streams map[string]startRequest
	stopped []string
	healthy bool
	reject  bool
}

func newFakeMediaServer(t *testing.T) (*fakeMediaServer, *httptest.Server) {
	t.Helper()
	f := &fakeMediaServer{streams: make(map[string]startRequest), healthy: true}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /streams", f.handleStart)
	mux.HandleFunc("DELETE /streams/{id}", f.handleStop)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if !f.healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeMediaServer) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	reject := f.reject
	if !reject {
		f.streams[req.ID] = req
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if reject {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(errorResponse{Error: "source unreachable"})
		return
	}
	_ = json.NewEncoder(w).Encode(startResponse{ID: req.ID, PlaybackURL: "http://media/" + req.ID + "/index.m3u8"})
}

func (f *fakeMediaServer) handleStop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.streams[id]; !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	delete(f.streams, id)
	f.stopped = append(f.stopped, id)
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeMediaServer) Stream(id string) (startRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.streams[id]
	return s, ok
}

func (f *fakeMediaServer) Stopped() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stopped...)
}

func (f *fakeMediaServer) SetReject(reject bool) {
	f.mu.Lock()
	f.reject = reject
	f.mu.Unlock()
}

func (f *fakeMediaServer) SetHealthy(ok bool) {
	f.mu.Lock()
	f.healthy = ok
	f.mu.Unlock()
}

func TestHTTPServer_StartStop(t *testing.T) {
	fake, srv := newFakeMediaServer(t)
	s := NewHTTPServer(srv.URL+"/", time.Second, nil)
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	ctx := context.Background()

	h, err := s.Start(ctx, "cam-1", "rtsp://admin:pw@10.0.0.5/stream1", QualityHigh)
	require.NoError(t, err)
	assert.Equal(t, "cam-1", h.ID)
	assert.Equal(t, "http://media/cam-1/index.m3u8", h.PlaybackURL)
	assert.Equal(t, QualityHigh, h.Quality)
	assert.Equal(t, fixed, h.StartedAt)

	got, ok := fake.Stream("cam-1")
	require.True(t, ok)
	assert.Equal(t, "rtsp://admin:pw@10.0.0.5/stream1", got.Source)
	assert.Equal(t, QualityHigh, got.Quality)

	require.NoError(t, s.Stop(ctx, "cam-1"))
	assert.Equal(t, []string{"cam-1"}, fake.Stopped())

	err = s.Stop(ctx, "cam-1")
	assert.ErrorIs(t, err, ErrStreamNotFound)
}

func TestHTTPServer_StartRejected(t *testing.T) {
	fake, srv := newFakeMediaServer(t)
	fake.SetReject(true)
	s := NewHTTPServer(srv.URL, time.Second, nil)

	_, err := s.Start(context.Background(), "cam-1", "rtsp://10.0.0.5/stream1", QualityLow)
	var se *ServerError
	require.True(t, errors.As(err, &se), "err = %v", err)
	assert.Equal(t, http.StatusUnprocessableEntity, se.StatusCode)
	assert.Equal(t, "source unreachable", se.Message)
	assert.True(t, strings.Contains(se.Error(), "start"))
}

func TestHTTPServer_Health(t *testing.T) {
	fake, srv := newFakeMediaServer(t)
	s := NewHTTPServer(srv.URL, time.Second, nil)

	assert.True(t, s.Health(context.Background()))
	fake.SetHealthy(false)
	assert.False(t, s.Health(context.Background()))

	srv.Close()
	assert.False(t, s.Health(context.Background()))
}

func TestParseQuality(t *testing.T) {
	tests := []struct {
		in      string
		want    Quality
		wantErr bool
	}{
		{"", QualityMedium, false},
		{"low", QualityLow, false},
		{" HIGH ", QualityHigh, false},
		{"ultra", "", true},
	}
	for _, tt := range tests {
		got, err := ParseQuality(tt.in, QualityMedium)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseQuality(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseQuality(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
