package httpserver

import (
	"net/http"
	"time"
)

// Option adjusts the server built by New.
type Option func(*http.Server)

// WithWriteTimeout bounds response writing. It must exceed the slowest
// handler, which is a suggestion query over a full window.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *http.Server) {
		if d > 0 {
			s.WriteTimeout = d
		}
	}
}

// New builds the HTTP server. Bodies are capped at 1 MiB by the handlers, so
// read timeouts stay short.
func New(addr string, handler http.Handler, opts ...Option) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
		MaxHeaderBytes:    64 << 10,
	}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}
