package media

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRoutes(t *testing.T) {
	m := New()
	want := map[string]bool{
		"GET /streams":         true,
		"POST /streams":        true,
		"GET /streams/resolve": true,
		"DELETE /streams/{id}": true,
		"GET /health":          true,
		"POST /ptz":            true,
	}
	routes := m.Routes()
	if len(routes) != len(want) {
		t.Fatalf("len(Routes()) = %d, want %d", len(routes), len(want))
	}
	for _, r := range routes {
		if !want[r.Method+" "+r.Path] {
			t.Errorf("unexpected route %s %s", r.Method, r.Path)
		}
	}
}

func TestHandleStartStream(t *testing.T) {
	cam := newFakeCamera()
	host, port := startCamera(t, cam)
	m, fake, _ := newTestModule(t, nil, nil)

	body := fmt.Sprintf(`{"stream_id":"lobby","address":%q,"port":%d,"username":"admin","password":"topsecret","quality":"high"}`, host, port)
	w := httptest.NewRecorder()
	m.handleStartStream(w, httptest.NewRequest(http.MethodPost, "/streams", strings.NewReader(body)))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201; body: %s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "topsecret") {
		t.Errorf("response leaks password: %s", w.Body.String())
	}
	var resp startStreamResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Stream.ID != "lobby" || resp.Stream.Quality != QualityHigh {
		t.Errorf("stream = %+v", resp.Stream)
	}
	if resp.Source.Resolver != "onvif" || !resp.Source.HasAuth {
		t.Errorf("source = %+v", resp.Source)
	}
	if sent, ok := fake.Stream("lobby"); !ok || !strings.Contains(sent.Source, "topsecret") {
		t.Errorf("media server source = %q, want credentials embedded", sent.Source)
	}
}

func TestHandleStartStream_Errors(t *testing.T) {
	cam := newFakeCamera()
	host, port := startCamera(t, cam)

	tests := []struct {
		name   string
		body   string
		reject bool
		status int
	}{
		{"bad json", `{`, false, http.StatusBadRequest},
		{"bad quality", fmt.Sprintf(`{"address":%q,"quality":"8k"}`, host), false, http.StatusBadRequest},
		{"no address", `{"port":80}`, false, http.StatusBadRequest},
		{"server rejects", fmt.Sprintf(`{"address":%q,"port":%d}`, host, port), true, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, fake, _ := newTestModule(t, nil, nil)
			fake.SetReject(tt.reject)
			w := httptest.NewRecorder()
			m.handleStartStream(w, httptest.NewRequest(http.MethodPost, "/streams", strings.NewReader(tt.body)))
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d; body: %s", w.Code, tt.status, w.Body.String())
			}
		})
	}
}

func TestHandleResolve(t *testing.T) {
	cam := newFakeCamera()
	host, port := startCamera(t, cam)
	m, _, _ := newTestModule(t, nil, nil)

	url := fmt.Sprintf("/streams/resolve?address=%s&port=%d&profile_token=Profile_2", host, port)
	w := httptest.NewRecorder()
	m.handleResolve(w, httptest.NewRequest(http.MethodGet, url, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"profile_token":"Profile_2"`) {
		t.Errorf("body = %s", w.Body.String())
	}

	for _, q := range []string{"?address=" + host + "&port=abc", "?port=80"} {
		w = httptest.NewRecorder()
		m.handleResolve(w, httptest.NewRequest(http.MethodGet, "/streams/resolve"+q, nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("query %q: status = %d, want 400", q, w.Code)
		}
	}
}

func TestHandleStopStream(t *testing.T) {
	cam := newFakeCamera()
	host, port := startCamera(t, cam)
	m, _, _ := newTestModule(t, nil, nil)
	if _, _, err := m.StartStream(t.Context(), StartRequest{StreamID: "a", Target: Target{Address: host, Port: port}}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		id     string
		status int
	}{
		{"a", http.StatusNoContent},
		{"a", http.StatusNotFound},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodDelete, "/streams/"+tt.id, nil)
		r.SetPathValue("id", tt.id)
		w := httptest.NewRecorder()
		m.handleStopStream(w, r)
		if w.Code != tt.status {
			t.Errorf("DELETE %s: status = %d, want %d", tt.id, w.Code, tt.status)
		}
	}
}

func TestHandleHealth(t *testing.T) {
	m, fake, _ := newTestModule(t, nil, nil)
	fake.SetHealthy(false)

	w := httptest.NewRecorder()
	m.handleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if got := strings.TrimSpace(w.Body.String()); got != `{"healthy":false}` {
		t.Errorf("body = %s", got)
	}
}

func TestHandlePTZ(t *testing.T) {
	cam := newFakeCamera()
	host, port := startCamera(t, cam)
	m, _, _ := newTestModule(t, nil, nil)
	t.Cleanup(func() { _ = m.Stop(context.Background()) })

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"accepted", fmt.Sprintf(`{"address":%q,"port":%d,"profile_token":"Profile_1","direction":"right"}`, host, port), http.StatusAccepted},
		{"bad direction", fmt.Sprintf(`{"address":%q,"profile_token":"Profile_1","direction":"sideways"}`, host), http.StatusBadRequest},
		{"missing profile", fmt.Sprintf(`{"address":%q,"direction":"up"}`, host), http.StatusBadRequest},
		{"bad json", `[`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			m.handlePTZ(w, httptest.NewRequest(http.MethodPost, "/ptz", strings.NewReader(tt.body)))
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d; body: %s", w.Code, tt.status, w.Body.String())
			}
		})
	}
}
