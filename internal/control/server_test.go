package control

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	logx "toaster/pkg/logx"
)

type fakeHandler struct {
	mu        sync.Mutex
	reloads   int
	flushes   int
	before    []string
	reloadErr error
}

func (h *fakeHandler) Reload() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reloads++
	return h.reloadErr
}

func (h *fakeHandler) Flush() {
	h.mu.Lock()
	h.flushes++
	h.mu.Unlock()
}

func (h *fakeHandler) BeforeCommand(token string) {
	h.mu.Lock()
	h.before = append(h.before, token)
	h.mu.Unlock()
}

func startServer(t *testing.T, h Handler) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "t.sock")
	ln, err := Listen(path)
	if err != nil {
		t.Fatalf("Listen error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = NewServer(ln, h, logx.Nop()).Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return path
}

func send(t *testing.T, path, token string) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	reply, err := Send(ctx, path, token)
	if err != nil {
		t.Fatalf("Send(%q) error: %v", token, err)
	}
	return reply
}

func TestProtocol(t *testing.T) {
	t.Parallel()
	h := &fakeHandler{}
	path := startServer(t, h)

	tests := []struct {
		token string
		reply string
	}{
		{token: "ping", reply: "pong"},
		{token: "flush", reply: "ok"},
		{token: "reload", reply: "ok"},
		{token: "ping\n", reply: "Invalid command: ping\n"},
		{token: "flush\r\n", reply: "Invalid command: flush\r\n"},
		{token: "dance", reply: "Invalid command: dance"},
		{token: "PING", reply: "Invalid command: PING"},
	}
	for _, tt := range tests {
		if got := send(t, path, tt.token); got != tt.reply {
			t.Fatalf("%q -> %q, want %q", tt.token, got, tt.reply)
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.reloads != 1 || h.flushes != 1 {
		t.Fatalf("reloads=%d flushes=%d, want 1 and 1", h.reloads, h.flushes)
	}
	if len(h.before) != len(tests) {
		t.Fatalf("BeforeCommand saw %v", h.before)
	}
}

func TestReloadErrorIsReported(t *testing.T) {
	t.Parallel()
	h := &fakeHandler{reloadErr: errors.New("invalid config: bad schedule")}
	path := startServer(t, h)
	if got := send(t, path, "reload"); got != "error: invalid config: bad schedule" {
		t.Fatalf("reply = %q", got)
	}
	// the server is still up
	if got := send(t, path, "ping"); got != "pong" {
		t.Fatalf("reply = %q", got)
	}
}

func TestFullBufferRequest(t *testing.T) {
	t.Parallel()
	path := startServer(t, &fakeHandler{})
	token := strings.Repeat("x", requestSize)
	if got := send(t, path, token); got != "Invalid command: "+token {
		t.Fatalf("reply = %q", got)
	}
}

func TestConcurrentClients(t *testing.T) {
	t.Parallel()
	path := startServer(t, &fakeHandler{})
	var wg sync.WaitGroup
	errs := make(chan string, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply, err := Send(context.Background(), path, "ping")
			if err != nil || reply != "pong" {
				errs <- reply
			}
		}()
	}
	wg.Wait()
	close(errs)
	for r := range errs {
		t.Fatalf("bad reply %q", r)
	}
}

func TestListenRemovesStaleFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "stale.sock")

	// leave a socket file behind the way a crashed daemon would
	old, err := net.Listen("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	old.(*net.UnixListener).SetUnlinkOnClose(false)
	_ = old.Close()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("stale socket not left behind: %v", err)
	}

	ln, err := Listen(path)
	if err != nil {
		t.Fatalf("Listen error: %v", err)
	}
	_ = ln.Close()

	// a plain file is treated the same way
	if err := os.WriteFile(path, []byte("junk"), 0o600); err != nil {
		t.Fatal(err)
	}
	ln, err = Listen(path)
	if err != nil {
		t.Fatalf("Listen over plain file error: %v", err)
	}
	_ = ln.Close()
}

func TestListenFailsWithoutRemedy(t *testing.T) {
	t.Parallel()
	_, err := Listen(filepath.Join(t.TempDir(), "missing-dir", "x.sock"))
	if !errors.Is(err, ErrBindSocket) {
		t.Fatalf("err = %v, want ErrBindSocket", err)
	}
}

func TestDispatchWithoutConnection(t *testing.T) {
	t.Parallel()
	h := &fakeHandler{}
	if got := Dispatch(h, "flush"); got != ReplyOK {
		t.Fatalf("flush -> %q", got)
	}
	if h.flushes != 1 {
		t.Fatalf("flushes = %d", h.flushes)
	}
}
