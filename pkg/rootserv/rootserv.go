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

package rootserv

import (
	"boatmon/pkg/logger"
	"context"
	"errors"
	"html/template"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"
)

const shutdownTimeout = 5 * time.Second

type subserver struct {
	Path string
	Desc string
}

// RootServer holds a mux and the list of attached sub-handlers.
type RootServer struct {
	log      *logger.Logger
	addr     string
	title    string
	mux      *http.ServeMux
	mainPage http.Handler // optional subserver for '/'

	mu         sync.Mutex
	subservers []subserver
	once       sync.Once
}

// New creates a new RootServer bound to an address. title heads the index.
func New(addr, title string) *RootServer {
	return &RootServer{
		addr:  addr,
		title: title,
		mux:   http.NewServeMux(),
		log:   logger.New("HTTPServer"),
	}
}

// Attach registers a sub-handler under path. The handler sees URLs with
// the prefix stripped. Attaching "/" replaces the index as main page.
func (ms *RootServer) Attach(path, desc string, handler http.Handler) {
	ms.log.Info("Attach: %s", path)

	if path == "/" {
		ms.mainPage = handler
		return
	}

	prefix := "/" + strings.Trim(path, "/")
	ms.mu.Lock()
	ms.subservers = append(ms.subservers, subserver{Path: prefix, Desc: desc})
	ms.mu.Unlock()

	ms.mux.Handle(prefix+"/", http.StripPrefix(prefix, handler))
	ms.mux.Handle(prefix, http.RedirectHandler(prefix+"/", http.StatusMovedPermanently))
}

// Handler returns the complete mux, index included.
func (ms *RootServer) Handler() http.Handler {
	ms.once.Do(func() {
		ms.mux.HandleFunc("/index", ms.handleIndex)
		ms.mux.HandleFunc("/{$}", func(w http.ResponseWriter, r *http.Request) {
			if ms.mainPage != nil {
				ms.mainPage.ServeHTTP(w, r)
				return
			}
			http.Redirect(w, r, "/index", http.StatusTemporaryRedirect)
		})
	})
	return ms.mux
}

var indexTpl = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html><head><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
<ul>
{{range .Subservers}}<li><a href="{{.Path}}/">{{.Path}}</a> - {{.Desc}}</li>
{{end}}</ul>
</body></html>
`))

func (ms *RootServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	ms.mu.Lock()
	subs := slices.Clone(ms.subservers)
	ms.mu.Unlock()
	slices.SortFunc(subs, func(a, b subserver) int { return strings.Compare(a.Path, b.Path) })

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := indexTpl.Execute(w, map[string]any{"Title": ms.title, "Subservers": subs})
	if err != nil {
		ms.log.Error("index: %v", err)
	}
}

// Run starts serving and blocks until the context is canceled.
func (ms *RootServer) Run(ctx context.Context) {
	ms.log.Info("Running on %s", ms.addr)

	srv := &http.Server{
		Addr:              ms.addr,
		Handler:           ms.Handler(),
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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		ms.log.Info("Stopped")
	case err := <-errCh:
		ms.log.Error("Stopped: %v", err)
	}
}
