// Copyright 2024 The Votechain Authors
// This file is part of the Votechain library.
//
// The Votechain library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The Votechain library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the Votechain library. If not, see <http://www.gnu.org/licenses/>.

// Package xlog is a minimal leveled, colorized logger used throughout
// Votechain, in place of the standard library's bare log.Printf.
package xlog

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Level is the severity of a log line, ordered least to most severe.
type Level int

const (
	LvlTrace Level = iota
	LvlDebug
	LvlInfo
	LvlWarn
	LvlError
	LvlCrit
)

var levelNames = map[Level]string{
	LvlTrace: "TRACE",
	LvlDebug: "DEBUG",
	LvlInfo:  "INFO",
	LvlWarn:  "WARN",
	LvlError: "ERROR",
	LvlCrit:  "CRIT",
}

var levelColors = map[Level]*color.Color{
	LvlTrace: color.New(color.FgWhite),
	LvlDebug: color.New(color.FgCyan),
	LvlInfo:  color.New(color.FgGreen),
	LvlWarn:  color.New(color.FgYellow),
	LvlError: color.New(color.FgRed),
	LvlCrit:  color.New(color.FgHiRed, color.Bold),
}

// Logger writes leveled, key-value annotated lines to an underlying
// writer. It is safe for concurrent use.
type Logger struct {
	mu     sync.Mutex
	out    io.Writer
	color  bool
	lvl    Level
	prefix string
}

var root = New(os.Stderr, "")

// New creates a Logger writing to w. If w is a terminal, output is
// colorized per level; color.NoColor and go-colorable wrap the writer so
// ANSI sequences survive on Windows consoles and are stripped otherwise.
func New(w io.Writer, prefix string) *Logger {
	useColor := false
	if f, ok := w.(*os.File); ok {
		useColor = isatty.IsTerminal(f.Fd())
		w = colorable.NewColorable(f)
	}
	return &Logger{out: w, color: useColor, lvl: LvlInfo, prefix: prefix}
}

// SetLevel sets the minimum level emitted by l.
func (l *Logger) SetLevel(lvl Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lvl = lvl
}

// With returns a child logger that prefixes every line with name.
func (l *Logger) With(name string) *Logger {
	p := name
	if l.prefix != "" {
		p = l.prefix + "." + name
	}
	return &Logger{out: l.out, color: l.color, lvl: l.lvl, prefix: p}
}

func (l *Logger) log(lvl Level, skip int, msg string, ctx ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lvl < l.lvl {
		return
	}
	var b strings.Builder
	b.WriteString(time.Now().UTC().Format("2006-01-02T15:04:05.000Z"))
	b.WriteByte(' ')
	name := levelNames[lvl]
	if l.color {
		name = levelColors[lvl].Sprint(name)
	}
	b.WriteString(name)
	b.WriteByte(' ')
	if l.prefix != "" {
		b.WriteByte('[')
		b.WriteString(l.prefix)
		b.WriteString("] ")
	}
	b.WriteString(msg)
	for i := 0; i+1 < len(ctx); i += 2 {
		fmt.Fprintf(&b, " %v=%v", ctx[i], ctx[i+1])
	}
	if lvl >= LvlError {
		if frames := stack.Trace(); len(frames) > skip {
			fmt.Fprintf(&b, " caller=%v", frames[skip])
		}
	}
	b.WriteByte('\n')
	io.WriteString(l.out, b.String())
}

func (l *Logger) Trace(msg string, ctx ...interface{}) { l.log(LvlTrace, 2, msg, ctx...) }
func (l *Logger) Debug(msg string, ctx ...interface{}) { l.log(LvlDebug, 2, msg, ctx...) }
func (l *Logger) Info(msg string, ctx ...interface{})  { l.log(LvlInfo, 2, msg, ctx...) }
func (l *Logger) Warn(msg string, ctx ...interface{})  { l.log(LvlWarn, 2, msg, ctx...) }
func (l *Logger) Error(msg string, ctx ...interface{}) { l.log(LvlError, 2, msg, ctx...) }

// Crit logs at the highest severity then exits the process with status 1.
// Reserved for unrecoverable start-up failures (e.g. a UDP bind error).
func (l *Logger) Crit(msg string, ctx ...interface{}) {
	l.log(LvlCrit, 2, msg, ctx...)
	os.Exit(1)
}

// Package-level convenience wrappers over a shared root logger.
func SetLevel(lvl Level)                 { root.SetLevel(lvl) }
func With(name string) *Logger           { return root.With(name) }
func Trace(msg string, ctx ...interface{}) { root.log(LvlTrace, 2, msg, ctx...) }
func Debug(msg string, ctx ...interface{}) { root.log(LvlDebug, 2, msg, ctx...) }
func Info(msg string, ctx ...interface{})  { root.log(LvlInfo, 2, msg, ctx...) }
func Warn(msg string, ctx ...interface{})  { root.log(LvlWarn, 2, msg, ctx...) }
func Error(msg string, ctx ...interface{}) { root.log(LvlError, 2, msg, ctx...) }
func Crit(msg string, ctx ...interface{})  { root.log(LvlCrit, 2, msg, ctx...); os.Exit(1) }
