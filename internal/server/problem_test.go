package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func decodeProblem(t *testing.T, w *httptest.ResponseRecorder) Problem {
	t.Helper()
	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("content-type = %q, want application/problem+json", ct)
	}
	var p Problem
	if err := json.NewDecoder(w.Body).Decode(&p); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return p
}

func TestWriteProblem(t *testing.T) {
	w := httptest.NewRecorder()
	WriteProblem(w, Problem{
		Type:     ProblemTypeNotFound,
		Title:    "Not Found",
		Status:   http.StatusNotFound,
		Detail:   "device 10.20.0.14 not found",
		Instance: "/api/v1/recon/devices/10.20.0.14",
	})

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	p := decodeProblem(t, w)
	want := Problem{
		Type:     ProblemTypeNotFound,
		Title:    "Not Found",
		Status:   http.StatusNotFound,
		Detail:   "device 10.20.0.14 not found",
		Instance: "/api/v1/recon/devices/10.20.0.14",
	}
	if p != want {
		t.Errorf("problem = %+v, want %+v", p, want)
	}
}

func TestWriteProblem_OmitsEmptyOptionalFields(t *testing.T) {
	w := httptest.NewRecorder()
	WriteProblem(w, Problem{Type: ProblemTypeInternal, Title: "Internal Server Error", Status: 500})

	var raw map[string]any
	if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	for _, k := range []string{"detail", "instance"} {
		if _, ok := raw[k]; ok {
			t.Errorf("%s should be omitted when empty", k)
		}
	}
}

// Each helper is exercised with the request shape that produces it in the
// module handlers.
func TestHelpers(t *testing.T) {
	tests := []struct {
		name      string
		write     func(http.ResponseWriter, string, string)
		detail    string
		instance  string
		status    int
		wantType  string
		wantTitle string
	}{
		{"unknown device", NotFound, "device not found", "/api/v1/recon/devices/10.0.0.9",
			http.StatusNotFound, ProblemTypeNotFound, "Not Found"},
		{"inverted scan range", BadRequest, "start address is after end address", "/api/v1/recon/scan",
			http.StatusBadRequest, ProblemTypeBadRequest, "Bad Request"},
		{"scan rate", RateLimited, "scan rate exceeded, try again shortly", "/api/v1/recon/scan",
			http.StatusTooManyRequests, ProblemTypeRateLimited, "Too Many Requests"},
		{"duplicate credential", Conflict, "credential name already in use", "/api/v1/vault/credentials",
			http.StatusConflict, ProblemTypeConflict, "Conflict"},
		{"sealed vault", Unavailable, "vault is sealed", "/api/v1/vault/credentials",
			http.StatusServiceUnavailable, ProblemTypeUnavailable, "Service Unavailable"},
		{"camera soap fault", BadGateway, "ter:ActionNotSupported", "/api/v1/media/ptz/10.0.0.5",
			http.StatusBadGateway, ProblemTypeBadGateway, "Bad Gateway"},
		{"listing failed", InternalError, "list devices failed", "/api/v1/recon/devices",
			http.StatusInternalServerError, ProblemTypeInternal, "Internal Server Error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w, tt.detail, tt.instance)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			p := decodeProblem(t, w)
			if p.Type != tt.wantType {
				t.Errorf("type = %q, want %q", p.Type, tt.wantType)
			}
			if p.Title != tt.wantTitle {
				t.Errorf("title = %q, want %q", p.Title, tt.wantTitle)
			}
			if p.Status != tt.status {
				t.Errorf("body status = %d, want %d", p.Status, tt.status)
			}
			if p.Detail != tt.detail || p.Instance != tt.instance {
				t.Errorf("detail/instance = %q/%q, want %q/%q", p.Detail, p.Instance, tt.detail, tt.instance)
			}
		})
	}
}

func TestNoStore(t *testing.T) {
	for _, module := range []string{"recon", "pulse", "vault"} {
		t.Run(module, func(t *testing.T) {
			w := httptest.NewRecorder()
			NoStore(w, module, "/api/v1/"+module)
			if w.Code != http.StatusServiceUnavailable {
				t.Fatalf("status = %d, want 503", w.Code)
			}
			p := decodeProblem(t, w)
			if p.Type != ProblemTypeNoStore {
				t.Errorf("type = %q, want %q", p.Type, ProblemTypeNoStore)
			}
			if want := module + " store not available"; p.Detail != want {
				t.Errorf("detail = %q, want %q", p.Detail, want)
			}
		})
	}
}
