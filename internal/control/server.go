package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	logx "toaster/pkg/logx"
)

// Tokens and replies of the control protocol. A request is a bare ASCII token,
// a response is a bare ASCII string; the connection closes after one exchange.
const (
	TokenReload = "reload"
	TokenFlush  = "flush"
	TokenPing   = "ping"

	ReplyOK      = "ok"
	ReplyPong    = "pong"
	replyInvalid = "Invalid command: "
	replyError   = "error: "

	// requestSize is the fixed read buffer; longer requests are truncated.
	requestSize = 20

	readTimeout = 10 * time.Second
)

// ErrBindSocket is returned when the control socket cannot be bound even after
// removing a stale socket file.
var ErrBindSocket = errors.New("bind control socket")

// Handler carries out control commands. Tokens are matched byte for byte,
// so "ping\n" is not ping.
type Handler interface {
	// Reload recompiles the configuration and restarts all jobs.
	Reload() error
	// Flush requests a buffer flush.
	Flush()
	// BeforeCommand runs ahead of every dispatched token.
	BeforeCommand(token string)
}

// Listen binds a unix socket at path. When the first attempt fails and a file
// already exists at path, the file is removed and the bind retried once.
func Listen(path string) (net.Listener, error) {
	ln, err := net.Listen("unix", path)
	if err == nil {
		return ln, nil
	}
	if _, statErr := os.Lstat(path); statErr != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBindSocket, path, err)
	}
	if rmErr := os.Remove(path); rmErr != nil {
		return nil, fmt.Errorf("%w: remove stale socket %s: %v", ErrBindSocket, path, rmErr)
	}
	ln, err = net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBindSocket, path, err)
	}
	return ln, nil
}

type Server struct {
	ln  net.Listener
	h   Handler
	log logx.Logger

	wg sync.WaitGroup
}

func NewServer(ln net.Listener, h Handler, log logx.Logger) *Server {
	return &Server{ln: ln, h: h, log: log.With(logx.String("comp", "control"))}
}

func (s *Server) Addr() string { return s.ln.Addr().String() }

// Serve accepts connections until ctx is done or the listener fails.
// Each connection is handled on its own goroutine.
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.ln.Close() })
	defer stop()

	s.log.Info("control socket listening", logx.String("path", s.Addr()))
	backoff := 5 * time.Millisecond
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(backoff)
				if backoff < time.Second {
					backoff *= 2
				}
				continue
			}
			s.log.Error("accept failed", logx.Err(err))
			s.wg.Wait()
			return err
		}
		backoff = 5 * time.Millisecond

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("control handler panicked", logx.Any("panic", r))
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	var buf [requestSize]byte
	n, err := conn.Read(buf[:])
	if n == 0 {
		if err != nil {
			s.log.Debug("empty control request", logx.Err(err))
		}
		return
	}
	token := string(buf[:n])

	reply := Dispatch(s.h, token)
	if strings.HasPrefix(reply, replyInvalid) {
		s.log.Warn("invalid control command", logx.String("token", token))
	} else {
		s.log.Debug("control command", logx.String("token", token), logx.String("reply", reply))
	}
	if _, err := conn.Write([]byte(reply)); err != nil {
		s.log.Debug("control reply failed", logx.Err(err))
	}
}

// Dispatch runs token against h and returns the reply text.
func Dispatch(h Handler, token string) string {
	h.BeforeCommand(token)
	switch token {
	case TokenReload:
		if err := h.Reload(); err != nil {
			return replyError + err.Error()
		}
		return ReplyOK
	case TokenFlush:
		h.Flush()
		return ReplyOK
	case TokenPing:
		return ReplyPong
	default:
		return replyInvalid + token
	}
}
