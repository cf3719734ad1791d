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

package logger

import (
	"bufio"
	"html/template"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
)

const defaultTailLines = 250

// Service implements http.Handler for debug/log control
type Service struct {
	mu sync.Mutex
}

func WebService() *Service {
	return &Service{}
}

func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/toggle":
		EnableDebug(!IsDebug())
		http.Redirect(w, r, "/logger", http.StatusSeeOther)

	case "/clear":
		if err := s.clearLog(); err != nil {
			http.Error(w, "failed to clear log: "+err.Error(), http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, "/logger", http.StatusSeeOther)

	case "/tail":
		n := defaultTailLines
		if v, err := strconv.Atoi(r.URL.Query().Get("lines")); err == nil && v > 0 {
			n = v
		}
		logs, err := s.tail(n)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, logs)

	default:
		s.renderPage(w)
	}
}

var pageTpl = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>Logger</title>
  <style>
    body { font-family: Arial, sans-serif; margin: 2em; background: #f9f9f9; color: #333; }
    .btn { padding:0.5em 1em; background:#007bff; color:white; border:none; border-radius:4px; cursor:pointer; }
    .btn-danger { background:#dc3545; }
    pre.log { background:#222; color:#eee; padding:1em; border-radius:6px; max-height:500px; overflow:auto; }
  </style>
</head>
<body>
  <h1>Logger</h1>
  <p><b>Debug:</b> {{if .Debug}}<span style="color:green;">ON</span>{{else}}<span style="color:red;">OFF</span>{{end}}</p>
  <form method="POST" action="/logger/toggle" style="display:inline;"><button class="btn" type="submit">Toggle Debug</button></form>
  <form method="POST" action="/logger/clear" style="display:inline;"><button class="btn btn-danger" type="submit">Clear Log</button></form>
  <h2>Last {{.Lines}} log lines</h2>
  <pre class="log">{{.Log}}</pre>
</body>
</html>
`))

func (s *Service) renderPage(w http.ResponseWriter) {
	logs, _ := s.tail(defaultTailLines)
	_ = pageTpl.Execute(w, map[string]any{
		"Debug": IsDebug(),
		"Lines": defaultTailLines,
		"Log":   logs,
	})
}

// clearLog truncates the log file and points the base logger at the new handle.
func (s *Service) clearLog() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	baseMu.Lock()
	defer baseMu.Unlock()

	if logFile == nil {
		return nil
	}
	name := logFile.Name()
	logFile.Close()

	f, err := os.OpenFile(name, os.O_CREATE|os.O_TRUNC|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	logFile = f
	baseLogger.SetOutput(io.MultiWriter(os.Stdout, logFile))
	return nil
}

// tail reads last n lines of the log file
func (s *Service) tail(n int) (string, error) {
	baseMu.RLock()
	f := logFile
	baseMu.RUnlock()
	if f == nil {
		return "", nil
	}

	rf, err := os.Open(f.Name())
	if err != nil {
		return "", err
	}
	defer rf.Close()

	var lines []string
	sc := bufio.NewScanner(rf)
	for sc.Scan() {
		lines = append(lines, sc.Text())
		if len(lines) > 2*n {
			lines = append([]string(nil), lines[len(lines)-n:]...)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n"), sc.Err()
}
