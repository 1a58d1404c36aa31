// Copyright (C) 2025 Josh Simonot
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package rootserv hosts the HTTP sub-handlers of the process on one
// listener.
package rootserv

import (
	"context"
	"errors"
	"fmt"
	"html"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"

	"sysgrow/pkg/logger"
)

type RootServer struct {
	log        *logger.Logger
	addr       string
	mux        *http.ServeMux
	subservers map[string]string // path -> description
}

func New(addr string) *RootServer {
	rs := &RootServer{
		addr:       addr,
		mux:        http.NewServeMux(),
		subservers: make(map[string]string),
		log:        logger.New("HTTPServer"),
	}
	rs.mux.HandleFunc("/index", rs.handleIndex)
	rs.mux.HandleFunc("/{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/index", http.StatusTemporaryRedirect)
	})
	return rs
}

// Attach mounts handler under path. The handler sees URLs with the prefix
// stripped, so "/health/" arrives as "/".
func (rs *RootServer) Attach(path, desc string, handler http.Handler) {
	path = "/" + strings.Trim(path, "/")
	rs.log.Info("attach %s", path)
	rs.subservers[path] = desc
	rs.mux.Handle(path+"/", http.StripPrefix(path, handler))
	rs.mux.Handle(path, http.StripPrefix(path, handler))
}

func (rs *RootServer) Handler() http.Handler { return rs.mux }

func (rs *RootServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintln(w, "<!DOCTYPE html><html><head><title>sysgrow</title></head><body>")
	fmt.Fprintln(w, "<h1>Endpoints</h1><ul>")
	for _, path := range slices.Sorted(maps.Keys(rs.subservers)) {
		fmt.Fprintf(w, `<li><a href="%s/">%s</a> - %s</li>`+"\n", path, path, html.EscapeString(rs.subservers[path]))
	}
	fmt.Fprintln(w, "</ul></body></html>")
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (rs *RootServer) Run(ctx context.Context) {
	rs.log.Info("listening on %s", rs.addr)
	srv := &http.Server{
		Addr:              rs.addr,
		Handler:           rs.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			rs.log.Warn("shutdown: %v", err)
		}
		rs.log.Info("stopped")
	case err := <-errCh:
		rs.log.Error("stopped: %v", err)
	}
}
