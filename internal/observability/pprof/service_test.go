package pprof

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	logx "toaster/pkg/logx"
)

type fakeStatus struct {
	Jobs int `json:"jobs"`
}

func TestHandlerRoutes(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop(), func() any { return fakeStatus{Jobs: 3} })
	h := s.Handler("")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	var st fakeStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil || st.Jobs != 3 {
		t.Fatalf("status = %q, %v", rec.Body.String(), err)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("pprof index = %d", rec.Code)
	}
}

func TestHandlerToken(t *testing.T) {
	t.Parallel()
	h := New(logx.Nop(), nil).Handler("s3cret")
	tests := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"no credentials", "/healthz", "", http.StatusUnauthorized},
		{"wrong query token", "/healthz?token=nope", "", http.StatusUnauthorized},
		{"query token", "/healthz?token=s3cret", "", http.StatusOK},
		{"bearer", "/healthz", "Bearer s3cret", http.StatusOK},
		{"wrong bearer", "/healthz", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("code = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	tests := map[string]bool{
		"127.0.0.1:6060": true,
		"localhost:6060": true,
		"[::1]:6060":     true,
		":6060":          false,
		"0.0.0.0:6060":   false,
		"10.0.0.5:6060":  false,
		"garbage":        false,
	}
	for addr, want := range tests {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestReconfigureRefusesInsecureBind(t *testing.T) {
	t.Parallel()
	s := New(logx.Nop(), nil)
	err := s.Reconfigure(context.Background(), Config{Addr: "0.0.0.0:0"})
	if !errors.Is(err, ErrInsecureBind) {
		t.Fatalf("err = %v", err)
	}
	if s.Addr() != "" {
		t.Fatal("server started on an insecure address")
	}
}

func TestServeAndStop(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(logx.Nop(), nil)
	if err := s.Reconfigure(ctx, Config{Addr: "127.0.0.1:0"}); err != nil {
		t.Fatalf("Reconfigure error: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for s.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("server did not start")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "ok" {
		t.Fatalf("body = %q", body)
	}

	if err := s.Reconfigure(ctx, Config{}); err != nil {
		t.Fatalf("disable error: %v", err)
	}
	if s.Addr() != "" {
		t.Fatal("server still bound after disable")
	}
}
