package api

import (
	"errors"
	"net/http"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
)

var errInternal = errors.New("internal server error")

// recoveryMiddleware answers a handler panic with a 500. ErrAbortHandler is
// re-raised for net/http to handle.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			err := recover()
			if err == nil {
				return
			}
			if err == http.ErrAbortHandler {
				panic(err)
			}
			s.panicsRecovered.Add(1)

			s.requestLogger(r).Error("HTTP handler panic",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote", r.RemoteAddr),
				zap.Any("error", err),
				zap.ByteString("stack", debug.Stack()),
			)
			s.sendJSON(w, http.StatusInternalServerError, Response{
				Success: false,
				Error:   errInternal.Error(),
				Time:    time.Now(),
			})
		}()

		next.ServeHTTP(w, r)
	})
}

// PanicsRecovered returns how many handler panics were turned into 500s.
func (s *Server) PanicsRecovered() uint64 { return s.panicsRecovered.Load() }
