package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

var timeoutBody = []byte(`{"message":"request timed out"}` + "\n")

// timeoutWriter sits between a handler and the real response writer. Once
// the deadline fires it drops every further write from the handler.
type timeoutWriter struct {
	w      http.ResponseWriter
	header http.Header

	mu          sync.Mutex
	timedOut    bool
	wroteHeader bool
}

func newTimeoutWriter(w http.ResponseWriter) *timeoutWriter {
	return &timeoutWriter{w: w, header: w.Header().Clone()}
}

func (tw *timeoutWriter) Header() http.Header { return tw.header }

// writeHeaderLocked copies the handler's headers to the real writer. Callers
// must hold tw.mu.
func (tw *timeoutWriter) writeHeaderLocked(code int) {
	tw.wroteHeader = true
	dst := tw.w.Header()
	for k, v := range tw.header {
		dst[k] = v
	}
	tw.w.WriteHeader(code)
}

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut || tw.wroteHeader {
		return
	}
	tw.writeHeaderLocked(code)
}

func (tw *timeoutWriter) Write(b []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut {
		return 0, http.ErrHandlerTimeout
	}
	if !tw.wroteHeader {
		tw.writeHeaderLocked(http.StatusOK)
	}
	return tw.w.Write(b)
}

// timeout stops the handler's output and writes the 504 body if nothing has
// been sent yet. It reports whether the 504 was written.
func (tw *timeoutWriter) timeout() bool {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	tw.timedOut = true
	if tw.wroteHeader {
		return false
	}
	tw.w.Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	tw.w.WriteHeader(http.StatusGatewayTimeout)
	_, _ = tw.w.Write(timeoutBody)
	return true
}

// RequestTimeout bounds each request with a context deadline. When it
// expires the caller receives 504 straight away, the handler's context is
// cancelled and its late output is discarded. The middleware still waits for
// the handler to return, so the request context and any pinned connection
// outlive it. Paths under any of the skip prefixes are not bounded.
func RequestTimeout(timeout time.Duration, skip ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path
			for _, prefix := range skip {
				if strings.HasPrefix(path, prefix) {
					return next(c)
				}
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			res := c.Response()
			orig := res.Writer
			tw := newTimeoutWriter(orig)
			res.Writer = tw
			defer func() { res.Writer = orig }()

			done := make(chan error, 1)
			go func() {
				done <- next(c)
			}()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return <-done
				}
				wrote := tw.timeout()
				<-done
				if wrote {
					res.Status = http.StatusGatewayTimeout
					res.Size = int64(len(timeoutBody))
					res.Committed = true
				}
				return nil
			}
		}
	}
}
