package control

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"
)

const defaultClientTimeout = 30 * time.Second

// Send writes token to the daemon at path and returns its reply.
// Without a ctx deadline the exchange is bounded by a default timeout.
func Send(ctx context.Context, path, token string) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultClientTimeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return "", fmt.Errorf("connect %s: %w", path, err)
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	if _, err := conn.Write([]byte(token)); err != nil {
		return "", fmt.Errorf("send %q: %w", token, err)
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		_ = uc.CloseWrite()
	}
	b, err := io.ReadAll(conn)
	if err != nil {
		return "", fmt.Errorf("read reply: %w", err)
	}
	return string(b), nil
}
