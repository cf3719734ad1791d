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

package pipeline

import (
	"boatmon/pkg/logger"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

var (
	ErrNoSource        = errors.New("pipeline has no source")
	ErrNoOutput        = errors.New("pipeline has no output")
	ErrBadInterval     = errors.New("pipeline interval must be positive")
	ErrDuplicateName   = errors.New("duplicate pipeline name")
	ErrDuplicatePath   = errors.New("duplicate signalk path")
	ErrDuplicateConfig = errors.New("duplicate config path")
	ErrUnknownConfig   = errors.New("unknown config path")
)

// Registry owns every pipeline of the node. Pipelines are added during
// start-up only; once Run has been called the set is frozen.
type Registry struct {
	pipelines []*Pipeline
	sealed    atomic.Bool
	log       *logger.Logger
}

func NewRegistry() *Registry {
	return &Registry{log: logger.New("Pipelines")}
}

func (r *Registry) add(p *Pipeline) {
	r.checkOpen()
	r.pipelines = append(r.pipelines, p)
}

func (r *Registry) checkOpen() {
	if r.sealed.Load() {
		r.log.Fatal("pipelines are fixed once the scheduler runs")
	}
}

func (r *Registry) Pipelines() []*Pipeline {
	return append([]*Pipeline(nil), r.pipelines...)
}

// Configurables lists every configurable stage in declaration order.
func (r *Registry) Configurables() []Configurable {
	var out []Configurable
	for _, p := range r.pipelines {
		for _, s := range p.stages {
			if c, ok := s.(Configurable); ok {
				out = append(out, c)
			}
		}
	}
	return out
}

// Sinks lists every terminal stage across pipelines.
func (r *Registry) Sinks() []Stage {
	var out []Stage
	for _, p := range r.pipelines {
		out = append(out, p.sinks...)
	}
	return out
}

// SKPaths lists the Signal K paths bound by sinks, in declaration order.
func (r *Registry) SKPaths() []string {
	var out []string
	for _, s := range r.Sinks() {
		if po, ok := s.(PathOwner); ok {
			out = append(out, po.SKPath())
		}
	}
	return out
}

// Validate checks that every pipeline is fully connected and that names,
// Signal K paths and config paths are unique.
func (r *Registry) Validate() error {
	var errs []error
	names := map[string]bool{}
	paths := map[string]string{}
	configs := map[string]string{}

	for _, p := range r.pipelines {
		if names[p.name] {
			errs = append(errs, fmt.Errorf("%w: %q", ErrDuplicateName, p.name))
		}
		names[p.name] = true

		if len(p.stages) == 0 || p.tick == nil {
			errs = append(errs, fmt.Errorf("%w: %q", ErrNoSource, p.name))
		}
		if len(p.sinks) == 0 {
			errs = append(errs, fmt.Errorf("%w: %q", ErrNoOutput, p.name))
		}
		if p.Interval() <= 0 {
			errs = append(errs, fmt.Errorf("%w: %q has %v", ErrBadInterval, p.name, p.Interval()))
		}

		for _, s := range p.sinks {
			po, ok := s.(PathOwner)
			if !ok {
				continue
			}
			if other, dup := paths[po.SKPath()]; dup {
				errs = append(errs, fmt.Errorf("%w: %q used by %q and %q", ErrDuplicatePath, po.SKPath(), other, p.name))
			}
			paths[po.SKPath()] = p.name
		}
		for _, s := range p.stages {
			c, ok := s.(Configurable)
			if !ok || c.ConfigPath() == "" {
				continue
			}
			if other, dup := configs[c.ConfigPath()]; dup {
				errs = append(errs, fmt.Errorf("%w: %q used by %q and %q", ErrDuplicateConfig, c.ConfigPath(), other, p.name))
			}
			configs[c.ConfigPath()] = p.name
		}
	}
	return errors.Join(errs...)
}

// CheckConfiguration vets raw as the new setting of configPath without
// applying it. A Signal K path already bound by another sink is refused.
// stored, when not nil, looks up settings saved but not applied yet, so
// those paths count as taken too.
func (r *Registry) CheckConfiguration(configPath string, raw json.RawMessage, stored func(string) (json.RawMessage, bool)) error {
	var target Configurable
	for _, c := range r.Configurables() {
		if c.ConfigPath() == configPath {
			target = c
			break
		}
	}
	if target == nil {
		return fmt.Errorf("%w: %s", ErrUnknownConfig, configPath)
	}
	if ck, ok := target.(ConfigChecker); ok {
		if err := ck.CheckConfiguration(raw); err != nil {
			return err
		}
	}

	rt, ok := target.(Retargetable)
	if !ok {
		return nil
	}
	path, err := rt.PathFor(raw)
	if err != nil {
		return err
	}
	for _, s := range r.Sinks() {
		po, ok := s.(PathOwner)
		if !ok || po == rt {
			continue
		}
		taken := po.SKPath()
		if other, ok := s.(Retargetable); ok && stored != nil {
			if pending, ok := stored(other.ConfigPath()); ok {
				if p, err := other.PathFor(pending); err == nil {
					taken = p
				}
			}
		}
		if taken == path {
			return fmt.Errorf("%w: %q is bound by %s", ErrDuplicatePath, path, s.Name())
		}
	}
	return nil
}

// Run is the scheduler. One goroutine polls every pipeline when it falls
// due, earliest first, and pushes the value through synchronously. Each
// pipeline is polled once right away, then every interval. A pipeline that
// falls behind skips the missed ticks.
func (r *Registry) Run(ctx context.Context) {
	r.sealed.Store(true)
	r.log.Info("Running %d pipelines", len(r.pipelines))
	defer r.log.Info("Stopped")

	if len(r.pipelines) == 0 {
		<-ctx.Done()
		return
	}

	start := time.Now()
	due := make([]time.Time, len(r.pipelines))
	for i := range due {
		due[i] = start
	}

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		i := earliest(due)
		if wait := time.Until(due[i]); wait > 0 {
			timer.Reset(wait)
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			return
		}

		p := r.pipelines[i]
		if err := p.Tick(ctx); err != nil {
			r.log.Error("%v", err)
		}

		interval := p.Interval()
		next := due[i].Add(interval)
		if now := time.Now(); !next.After(now) {
			next = now.Add(interval)
		}
		due[i] = next
	}
}

func earliest(due []time.Time) int {
	idx := 0
	for i := 1; i < len(due); i++ {
		if due[i].Before(due[idx]) {
			idx = i
		}
	}
	return idx
}
