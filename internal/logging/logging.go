// logging.go - developer log for l6sk.
// Copyright (C) 2017  Yawning Angel.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package logging is l6sk's own developer log: a leveled stderr/stdout sink
// with caller location, built on github.com/op/go-logging the same way the
// server's own initLogging wires up its backend.
package logging

import (
	"io"
	"os"

	golog "github.com/op/go-logging"
)

// Logger wraps a module-scoped *golog.Logger. Embedding means every method
// on the underlying logger (Debugf, Noticef, Warningf, Errorf, ...) is
// available directly.
type Logger struct {
	*golog.Logger
}

// format renders "LEVEL|ss.ss|file:line|msg", colorizing the level with
// go-logging's per-level palette: WARNING/ERROR/CRITICAL records are
// colored, and so are NOTICE and DEBUG records.
var format = golog.MustStringFormatter(
	`%{color}%{level:.4s}%{color:reset}|%{time:05.00}|%{shortfile}|%{message}`,
)

// New builds a Logger for module, writing to w (os.Stderr if nil) at the
// given level ("DEBUG", "INFO", "NOTICE", "WARNING", "ERROR", "CRITICAL").
// An unrecognized level falls back to INFO rather than failing init over a
// cosmetic knob.
func New(module string, w io.Writer, level string) *Logger {
	if w == nil {
		w = os.Stderr
	}
	backend := golog.NewLogBackend(w, "", 0)
	formatted := golog.NewBackendFormatter(backend, format)
	leveled := golog.AddModuleLevel(formatted)
	leveled.SetLevel(levelFromString(level), "")

	l := golog.MustGetLogger(module)
	l.SetBackend(leveled)
	return &Logger{l}
}

func levelFromString(s string) golog.Level {
	switch s {
	case "DEBUG":
		return golog.DEBUG
	case "INFO":
		return golog.INFO
	case "NOTICE":
		return golog.NOTICE
	case "WARNING", "WARN":
		return golog.WARNING
	case "ERROR", "ERRR":
		return golog.ERROR
	case "CRITICAL", "CRIT":
		return golog.CRITICAL
	default:
		return golog.INFO
	}
}
