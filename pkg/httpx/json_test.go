package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAllowMethodsRejectsOthers(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/reservations", nil)

	if AllowMethods(rr, req, http.MethodGet, http.MethodHead) {
		t.Fatalf("expected POST to be rejected")
	}
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
	if got := rr.Header().Get("Allow"); got != "GET, HEAD" {
		t.Fatalf("unexpected Allow header %q", got)
	}
}

func TestGetJSONDecodesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]int{"pending": 3})
	}))
	defer srv.Close()

	var out struct {
		Pending int `json:"pending"`
	}
	if err := GetJSON(context.Background(), srv.Client(), srv.URL, &out); err != nil {
		t.Fatalf("get json: %v", err)
	}
	if out.Pending != 3 {
		t.Fatalf("expected 3 pending, got %d", out.Pending)
	}
}

func TestGetJSONSurfacesErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, http.StatusServiceUnavailable, "not_ready", "no cycle has completed yet")
	}))
	defer srv.Close()

	var out map[string]any
	err := GetJSON(context.Background(), srv.Client(), srv.URL, &out)
	if err == nil || !strings.Contains(err.Error(), "not_ready") {
		t.Fatalf("expected not_ready error, got %v", err)
	}
}
