package report

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func TestRenderHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/forms/chromium/convert/html" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
			return
		}
		file, _, err := r.FormFile("files")
		if err != nil {
			t.Errorf("missing html file: %v", err)
			return
		}
		html, _ := io.ReadAll(file)
		if !strings.Contains(string(html), "Trial balance") {
			t.Errorf("unexpected html %q", html)
		}
		if r.FormValue("waitDelay") != "500ms" {
			t.Errorf("expected wait delay, got %q", r.FormValue("waitDelay"))
		}
		_, _ = w.Write([]byte("%PDF-1.7"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL + "/").WithWaitDelay(500 * time.Millisecond)
	pdf, err := client.RenderHTML(context.Background(), []byte("<h1>Trial balance</h1>"))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if string(pdf) != "%PDF-1.7" {
		t.Fatalf("unexpected payload %q", pdf)
	}
}

func TestRenderHTMLSurfacesFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "chromium crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).RenderHTML(context.Background(), []byte("<p/>"))
	if err == nil || !strings.Contains(err.Error(), "chromium crashed") {
		t.Fatalf("expected gotenberg error body, got %v", err)
	}
	if _, err := NewClient("").RenderHTML(context.Background(), nil); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestPingHandler(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	for name, tc := range map[string]struct {
		client *Client
		status int
	}{
		"up":   {NewClient(healthy.URL), http.StatusOK},
		"down": {NewClient(""), http.StatusServiceUnavailable},
	} {
		r := chi.NewRouter()
		NewHandler(tc.client, nil).MountRoutes(r)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
		if rec.Code != tc.status {
			t.Fatalf("%s: expected %d got %d", name, tc.status, rec.Code)
		}
	}
}
