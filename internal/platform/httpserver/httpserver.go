// Package httpserver builds the ops HTTP server (/healthz, /metrics).
package httpserver

import (
	"net/http"
	"time"
)

// New builds an HTTP server with sane defaults for an ops-only surface.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       time.Minute,
	}
}
