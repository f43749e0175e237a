// Copyright (C) 2024  wwhai
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along
// with this program; if not, see <https://www.gnu.org/licenses/>.

package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// stringToLevel maps the accepted level names to zerolog levels.
var stringToLevel = map[string]zerolog.Level{
	"TRACE":   zerolog.TraceLevel,
	"DEBUG":   zerolog.DebugLevel,
	"INFO":    zerolog.InfoLevel,
	"WARN":    zerolog.WarnLevel,
	"WARNING": zerolog.WarnLevel,
	"ERROR":   zerolog.ErrorLevel,
	"NONE":    zerolog.Disabled,
}

// ParseLevel converts a level name (e.g., "debug", "WARNING") to a zerolog level.
// An empty name means info.
func ParseLevel(levelStr string) (zerolog.Level, error) {
	if levelStr == "" {
		return zerolog.InfoLevel, nil
	}
	if level, ok := stringToLevel[strings.ToUpper(levelStr)]; ok {
		return level, nil
	}
	return zerolog.NoLevel, fmt.Errorf("invalid log level: %s. Available levels: %v", levelStr, availableLevels())
}

func availableLevels() []string {
	levels := make([]string, 0, len(stringToLevel))
	for levelStr := range stringToLevel {
		levels = append(levels, levelStr)
	}
	sort.Strings(levels)
	return levels
}

// Setup creates a zerolog logger writing to out (stdout when nil).
// format "text" selects the human readable console writer, anything
// else writes JSON lines.
func Setup(level, format string, out io.Writer) (zerolog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, err
	}
	if out == nil {
		out = os.Stdout
	}
	if strings.EqualFold(format, "text") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: out != os.Stdout}
	}
	return zerolog.New(out).With().Timestamp().Logger().Level(lvl), nil
}
