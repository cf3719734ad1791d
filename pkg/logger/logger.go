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
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

type Logger struct {
	prefix string
}

var (
	baseMu       sync.RWMutex
	baseLogger   = log.New(os.Stdout, "", log.LstdFlags)
	logFile      *os.File
	once         sync.Once
	debugEnabled bool
	debugMu      sync.RWMutex
)

// Init adds a log file next to stdout.
// Debug is enabled at startup if the DEBUG env var is set.
func Init(logPath string) error {
	var err error
	once.Do(func() {
		if mkErr := os.MkdirAll(filepath.Dir(logPath), 0755); mkErr != nil {
			err = mkErr
			return
		}
		logFile, err = os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return
		}
		setBase(io.MultiWriter(os.Stdout, logFile))

		if os.Getenv("DEBUG") != "" {
			EnableDebug(true)
		}
	})
	return err
}

// Close cleans up the log file (call on shutdown)
func Close() {
	baseMu.Lock()
	defer baseMu.Unlock()
	if logFile != nil {
		logFile.Close()
		logFile = nil
		baseLogger = log.New(os.Stdout, "", log.LstdFlags)
	}
}

// SetOutput redirects all loggers, mostly for tests.
func SetOutput(w io.Writer) {
	setBase(w)
}

func setBase(w io.Writer) {
	baseMu.Lock()
	baseLogger = log.New(w, "", log.LstdFlags)
	baseMu.Unlock()
}

func base() *log.Logger {
	baseMu.RLock()
	defer baseMu.RUnlock()
	return baseLogger
}

// EnableDebug dynamically turns debug logging on/off
func EnableDebug(on bool) {
	debugMu.Lock()
	debugEnabled = on
	debugMu.Unlock()
}

// IsDebug returns current debug state
func IsDebug() bool {
	debugMu.RLock()
	defer debugMu.RUnlock()
	return debugEnabled
}

// New returns a logger tagged with prefix. Loggers created before Init
// still end up in the log file once it is opened.
func New(prefix string) *Logger {
	return &Logger{prefix: prefix}
}

func (l *Logger) Info(fmtstr string, v ...any) {
	base().Printf("[%s] INFO: %s", l.prefix, fmt.Sprintf(fmtstr, v...))
}

func (l *Logger) Warn(fmtstr string, v ...any) {
	base().Printf("[%s] WARN: %s", l.prefix, fmt.Sprintf(fmtstr, v...))
}

func (l *Logger) Error(fmtstr string, v ...any) {
	l.withCaller("ERROR", fmt.Sprintf(fmtstr, v...))
}

// Fatal logs and panics; service.Start turns the panic into a shutdown.
func (l *Logger) Fatal(fmtstr string, v ...any) {
	formatted := fmt.Sprintf(fmtstr, v...)
	l.withCaller("FATAL", formatted)
	panic(formatted)
}

func (l *Logger) Debug(fmtstr string, v ...any) {
	if !IsDebug() {
		return
	}
	base().Printf("[%s] DEBUG: %s", l.prefix, fmt.Sprintf(fmtstr, v...))
}

func (l *Logger) withCaller(level, msg string) {
	_, file, line, ok := runtime.Caller(2)
	if ok {
		base().Printf("[%s] %s: (%s:%d) %s", l.prefix, level, filepath.Base(file), line, msg)
		return
	}
	base().Printf("[%s] %s: %s", l.prefix, level, msg)
}
