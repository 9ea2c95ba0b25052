package pprof

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	logx "kubelookout/pkg/logx"
)

func listenAddr(s *Service) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func waitForListener(ctx context.Context, s *Service) (string, error) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		if addr := listenAddr(s); addr != "" {
			return addr, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func getStatus(ctx context.Context, url string, header http.Header) (int, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return 0, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode, nil
}

func TestServiceServesHealthAndStatus(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, logx.Nop())
	srv.SetStatus(func() any { return map[string]int{"active": 2} })
	srv.Start(ctx)
	t.Cleanup(func() { srv.Stop(context.Background()) })

	addr, err := waitForListener(ctx, srv)
	if err != nil {
		t.Fatalf("server never came up: %v", err)
	}

	if code, err := getStatus(ctx, "http://"+addr+"/healthz", nil); err != nil || code != http.StatusOK {
		t.Fatalf("healthz = %d, %v", code, err)
	}

	reqCtx, reqCancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer reqCancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, "http://"+addr+"/statusz", http.NoBody)
	if err != nil {
		t.Fatalf("statusz request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("statusz: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	var payload map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("statusz decode: %v", err)
	}
	if payload["active"] != 2 {
		t.Fatalf("statusz payload = %v", payload)
	}

	if code, err := getStatus(ctx, "http://"+addr+"/debug/pprof/", nil); err != nil || code != http.StatusOK {
		t.Fatalf("pprof index = %d, %v", code, err)
	}
}

func TestServiceTokenAuth(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv := New(Config{Enabled: true, Addr: "127.0.0.1:0", Token: "s3cret"}, logx.Nop())
	srv.Start(ctx)
	t.Cleanup(func() { srv.Stop(context.Background()) })

	addr, err := waitForListener(ctx, srv)
	if err != nil {
		t.Fatalf("server never came up: %v", err)
	}
	url := "http://" + addr + "/healthz"

	if code, err := getStatus(ctx, url, nil); err != nil || code != http.StatusUnauthorized {
		t.Fatalf("no token = %d, %v; want 401", code, err)
	}
	hdr := http.Header{"Authorization": []string{"Bearer s3cret"}}
	if code, err := getStatus(ctx, url, hdr); err != nil || code != http.StatusOK {
		t.Fatalf("bearer token = %d, %v; want 200", code, err)
	}
	if code, err := getStatus(ctx, url+"?token=s3cret", nil); err != nil || code != http.StatusOK {
		t.Fatalf("query token = %d, %v; want 200", code, err)
	}
	if code, err := getStatus(ctx, url+"?token=wrong", nil); err != nil || code != http.StatusUnauthorized {
		t.Fatalf("wrong token = %d, %v; want 401", code, err)
	}
}

func TestReconfigureDisableStopsServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, logx.Nop())
	srv.Start(ctx)
	t.Cleanup(func() { srv.Stop(context.Background()) })

	if _, err := waitForListener(ctx, srv); err != nil {
		t.Fatalf("server never came up: %v", err)
	}

	srv.Reconfigure(ctx, Config{Enabled: false})
	if addr := listenAddr(srv); addr != "" {
		t.Fatalf("listener still up after disable: %s", addr)
	}
}

func TestNormalizePrefix(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want string
	}{
		{"", "/debug/pprof/"},
		{"/debug/pprof", "/debug/pprof/"},
		{"admin/pprof/", "/admin/pprof/"},
		{"  /p  ", "/p/"},
	}
	for _, tt := range tests {
		if got := normalizePrefix(tt.in); got != tt.want {
			t.Errorf("normalizePrefix(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	tests := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:6060", true},
		{"localhost:6060", true},
		{"[::1]:6060", true},
		{"0.0.0.0:6060", false},
		{":6060", false},
		{"10.0.0.5:6060", false},
		{"garbage", false},
	}
	for _, tt := range tests {
		if got := isLoopbackAddr(tt.addr); got != tt.want {
			t.Errorf("isLoopbackAddr(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}
