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

package monitor

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// ConsoleReporter prints reports as plain text with two decimals.
type ConsoleReporter struct {
	mu  sync.Mutex
	out io.Writer
}

func NewConsoleReporter(out io.Writer) *ConsoleReporter {
	return &ConsoleReporter{out: out}
}

func (c *ConsoleReporter) Name() string { return "console" }

func (c *ConsoleReporter) Report(r Report) error {
	var sb strings.Builder
	sb.WriteString("Voltage read:\n")
	if r.Voltages == nil {
		sb.WriteString("\tno data\n")
	} else {
		for ch := range r.Voltages {
			fmt.Fprintf(&sb, "\tCH%d", ch+1)
		}
		sb.WriteString("\n")
		for _, v := range r.Voltages {
			sb.WriteString("\t" + round2(v).StringFixed(2))
		}
		sb.WriteString("\n")
	}
	for _, reading := range r.Readings {
		sb.WriteString(reading.Label + ": ")
		if !reading.Valid {
			sb.WriteString("no data\n")
			continue
		}
		sb.WriteString(round2(reading.Value).StringFixed(2))
		if reading.Unit != "" {
			sb.WriteString(" " + reading.Unit)
		}
		sb.WriteString("\n")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := io.WriteString(c.out, sb.String())
	return err
}

func round2(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(2)
}
