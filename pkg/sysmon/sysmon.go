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

// Package sysmon serves a small health page for the node: CPU, memory,
// the storage card and whatever counters the application adds.
package sysmon

import (
	"boatmon/pkg/logger"
	"encoding/json"
	"html/template"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

type CPU struct {
	SystemPercent  float64 `json:"system_percent"`
	ProcessPercent float64 `json:"process_percent"`
}

type Memory struct {
	SystemTotal uint64 `json:"system_total"`
	SystemUsed  uint64 `json:"system_used"`
	SystemFree  uint64 `json:"system_free"`
	ProcessRSS  uint64 `json:"process_rss"`
}

type Disk struct {
	Path  string `json:"path"`
	Total uint64 `json:"total"`
	Used  uint64 `json:"used"`
	Free  uint64 `json:"free"`
}

type Snapshot struct {
	GoVersion string         `json:"go_version"`
	Uptime    string         `json:"uptime"`
	CPU       CPU            `json:"cpu"`
	Memory    Memory         `json:"memory"`
	Disk      Disk           `json:"disk"`
	Node      map[string]any `json:"node,omitempty"`
}

type Service struct {
	dataDir string
	started time.Time
	extras  func() map[string]any
	log     *logger.Logger
}

// New monitors the filesystem holding dataDir. extras, when set, adds
// application counters under "node".
func New(dataDir string, extras func() map[string]any) *Service {
	return &Service{
		dataDir: dataDir,
		started: time.Now(),
		extras:  extras,
		log:     logger.New("SysMon"),
	}
}

func (s *Service) Collect() Snapshot {
	snap := Snapshot{
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.started).Truncate(time.Second).String(),
	}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		snap.CPU.SystemPercent = pct[0]
	}
	if vmem, err := mem.VirtualMemory(); err == nil {
		snap.Memory.SystemTotal = vmem.Total
		snap.Memory.SystemUsed = vmem.Used
		snap.Memory.SystemFree = vmem.Available
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mi, err := p.MemoryInfo(); err == nil {
			snap.Memory.ProcessRSS = mi.RSS
		}
		if pct, err := p.CPUPercent(); err == nil {
			snap.CPU.ProcessPercent = pct
		}
	}

	disk, err := diskUsage(s.dataDir)
	if err != nil {
		s.log.Error("disk usage of %s: %v", s.dataDir, err)
	}
	snap.Disk = disk

	if s.extras != nil {
		snap.Node = s.extras()
	}
	return snap
}

func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snap := s.Collect()

	if r.Header.Get("Accept") == "application/json" {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			s.log.Error("encode: %v", err)
		}
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTpl.Execute(w, snap); err != nil {
		s.log.Error("render page: %v", err)
	}
}

func gb(b uint64) float64 { return float64(b) / (1 << 30) }
func mb(b uint64) float64 { return float64(b) / (1 << 20) }

var pageTpl = template.Must(template.New("page").Funcs(template.FuncMap{"gb": gb, "mb": mb}).Parse(`<!DOCTYPE html>
<html>
<head>
	<title>System Monitor</title>
	<style>
		body { font-family: sans-serif; margin: 2em; background: #f9f9f9; }
		h1 { color: #333; }
		table { border-collapse: collapse; width: 60%; margin-top: 1em; }
		th, td { border: 1px solid #ccc; padding: 0.6em 1em; text-align: left; }
		th { background: #eee; }
	</style>
</head>
<body>
	<h1>System Monitor</h1>
	<p>Go {{.GoVersion}}, up {{.Uptime}}</p>
	<h2>CPU</h2>
	<table>
		<tr><th>System %</th><th>Process %</th></tr>
		<tr><td>{{printf "%.2f" .CPU.SystemPercent}}%</td><td>{{printf "%.2f" .CPU.ProcessPercent}}%</td></tr>
	</table>
	<h2>Memory</h2>
	<table>
		<tr><th>System Total</th><th>System Used</th><th>System Free</th><th>Process RSS</th></tr>
		<tr>
			<td>{{printf "%.2f" (gb .Memory.SystemTotal)}} GB</td>
			<td>{{printf "%.2f" (gb .Memory.SystemUsed)}} GB</td>
			<td>{{printf "%.2f" (gb .Memory.SystemFree)}} GB</td>
			<td>{{printf "%.2f" (mb .Memory.ProcessRSS)}} MB</td>
		</tr>
	</table>
	<h2>Storage ({{.Disk.Path}})</h2>
	<table>
		<tr><th>Total</th><th>Used</th><th>Free</th></tr>
		<tr>
			<td>{{printf "%.2f" (gb .Disk.Total)}} GB</td>
			<td>{{printf "%.2f" (gb .Disk.Used)}} GB</td>
			<td>{{printf "%.2f" (gb .Disk.Free)}} GB</td>
		</tr>
	</table>
	{{with .Node}}
	<h2>Node</h2>
	<table>
		{{range $k, $v := .}}<tr><th>{{$k}}</th><td>{{$v}}</td></tr>{{end}}
	</table>
	{{end}}
</body>
</html>
`))
