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

package history

import (
	"encoding/json"
	"html/template"
	"net/http"
	"slices"
	"time"
)

// Value is the latest reading of a path for display.
type Value struct {
	Path        string    `json:"path"`
	DisplayName string    `json:"displayName,omitempty"`
	Units       string    `json:"units,omitempty"`
	Value       any       `json:"value"`
	Timestamp   time.Time `json:"timestamp"`
}

type Stats struct {
	Path      string   `json:"path"`
	Window    string   `json:"window"`
	Mean      *float64 `json:"mean,omitempty"`
	Median    *float64 `json:"median,omitempty"`
	PercentOn *float64 `json:"percentOn,omitempty"`
}

func (s *Service) NewServeMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/values", s.handleAPIValues)
	mux.HandleFunc("/api/history", s.handleAPIHistory)
	mux.HandleFunc("/api/stats", s.handleAPIStats)
	mux.HandleFunc("/", s.handlePage)
	return mux
}

func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.muxOnce.Do(func() { s.mux = s.NewServeMux() })
	s.mux.ServeHTTP(w, r)
}

func (s *Service) values() []Value {
	latest := s.Latest()
	out := make([]Value, 0, len(latest))
	for _, path := range s.paths {
		entry, ok := latest[path]
		if !ok {
			continue
		}
		meta := s.meta[path]
		out = append(out, Value{
			Path:        path,
			DisplayName: meta.DisplayName,
			Units:       meta.Units,
			Value:       entry.Value,
			Timestamp:   entry.Timestamp,
		})
	}
	return out
}

// handleAPIValues returns the latest value of every path.
func (s *Service) handleAPIValues(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.values())
}

// handleAPIHistory returns all retained entries for one path.
func (s *Service) handleAPIHistory(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		http.Error(w, "missing 'path' parameter", http.StatusBadRequest)
		return
	}
	if !slices.Contains(s.paths, path) {
		http.Error(w, "unknown path", http.StatusNotFound)
		return
	}
	s.writeJSON(w, s.List(path))
}

// handleAPIStats summarises one path over ?window= (default 1h).
func (s *Service) handleAPIStats(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if !slices.Contains(s.paths, path) {
		http.Error(w, "unknown path", http.StatusNotFound)
		return
	}
	window := time.Hour
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			http.Error(w, "invalid 'window' parameter", http.StatusBadRequest)
			return
		}
		window = d
	}

	st := Stats{Path: path, Window: window.String()}
	if v, err := s.Mean(path, window); err == nil {
		st.Mean = &v
	}
	if v, err := s.Median(path, window); err == nil {
		st.Median = &v
	}
	if v, err := s.PercentOn(path, window); err == nil {
		st.PercentOn = &v
	}
	s.writeJSON(w, st)
}

func (s *Service) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to encode response: %v", err)
	}
}

var pageTpl = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta http-equiv="refresh" content="5">
  <title>Values</title>
  <style>
    body { font-family: Arial, sans-serif; margin: 2em; background: #f9f9f9; color: #333; }
    table { border-collapse: collapse; }
    td, th { padding: 0.4em 1em; border-bottom: 1px solid #ddd; text-align: left; }
  </style>
</head>
<body>
  <h1>Values</h1>
  <table>
    <tr><th>Path</th><th>Name</th><th>Value</th><th>Units</th><th>Updated</th></tr>
    {{range .}}
    <tr>
      <td><a href="/values/api/history?path={{.Path}}">{{.Path}}</a></td>
      <td>{{.DisplayName}}</td>
      <td>{{.Value}}</td>
      <td>{{.Units}}</td>
      <td>{{.Timestamp.Format "15:04:05"}}</td>
    </tr>
    {{end}}
  </table>
</body>
</html>
`))

func (s *Service) handlePage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTpl.Execute(w, s.values()); err != nil {
		s.log.Error("render page: %v", err)
	}
}
