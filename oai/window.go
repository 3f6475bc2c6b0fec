//  Copyright 2015 by Leipzig University Library, http://ub.uni-leipzig.de
//                    The Finc Authors, http://finc.info
//                    Martin Czygan, <martin.czygan@uni-leipzig.de>
//
// This file is part of some open source application.
//
// Some open source application is free software: you can redistribute
// it and/or modify it under the terms of the GNU General Public
// License as published by the Free Software Foundation, either
// version 3 of the License, or (at your option) any later version.
//
// Some open source application is distributed in the hope that it will
// be useful, but WITHOUT ANY WARRANTY; without even the implied warranty
// of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Foobar.  If not, see <http://www.gnu.org/licenses/>.
//
// @license GPL-3.0+ <http://spdx.org/licenses/GPL-3.0+>
//
package oai

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jinzhu/now"
)

const oneDay = 24 * time.Hour

var ErrInvalidDateRange = errors.New("invalid date range")

// Windowing strategies for splitting a date range into several list requests.
const (
	WindowNone    = ""
	WindowWeekly  = "weekly"
	WindowMonthly = "monthly"
)

// ParseWindow validates a windowing strategy name.
func ParseWindow(s string) (string, error) {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case WindowNone, "none":
		return WindowNone, nil
	case WindowWeekly, WindowMonthly:
		return v, nil
	default:
		return "", fmt.Errorf("unknown window %q", s)
	}
}

// Window represent a span of time, from and until including.
type Window struct {
	From  time.Time
	Until time.Time
}

// timeShiftFunc moves a time to a window boundary.
type timeShiftFunc func(time.Time) time.Time

func (w Window) makeWindows(left, right timeShiftFunc) ([]Window, error) {
	var ws []Window
	if w.From.After(w.Until) {
		return ws, ErrInvalidDateRange
	}
	var start, end time.Time
	from := w.From
	for {
		switch {
		case len(ws) == 0:
			start = now.New(w.From).BeginningOfDay()
		default:
			start = left(from)
		}
		end = right(from)
		if end.After(w.Until) {
			// discard end and use the end of day of until
			ws = append(ws, Window{From: start, Until: now.New(w.Until).EndOfDay()})
			break
		}
		ws = append(ws, Window{From: start, Until: end})
		from = end.Add(oneDay)
	}
	return ws, nil
}

func (w Window) Monthly() ([]Window, error) {
	shiftLeft := func(t time.Time) time.Time {
		return now.New(t).BeginningOfMonth()
	}
	shiftRight := func(t time.Time) time.Time {
		return now.New(t).EndOfMonth()
	}
	return w.makeWindows(shiftLeft, shiftRight)
}

func (w Window) Weekly() ([]Window, error) {
	shiftLeft := func(t time.Time) time.Time {
		return now.New(t).BeginningOfWeek()
	}
	shiftRight := func(t time.Time) time.Time {
		return now.New(t).EndOfWeek()
	}
	return w.makeWindows(shiftLeft, shiftRight)
}

// Split applies a windowing strategy. WindowNone yields the window itself.
func (w Window) Split(strategy string) ([]Window, error) {
	switch strategy {
	case WindowWeekly:
		return w.Weekly()
	case WindowMonthly:
		return w.Monthly()
	case WindowNone:
		if w.From.After(w.Until) {
			return nil, ErrInvalidDateRange
		}
		return []Window{w}, nil
	}
	return nil, fmt.Errorf("unknown window %q", strategy)
}

// ParseDatestamp parses the day part of an OAI datestamp, which may carry
// seconds granularity.
func ParseDatestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) < len(DateLayout) {
		return time.Time{}, fmt.Errorf("datestamp too short: %q", s)
	}
	return time.Parse(DateLayout, s[:len(DateLayout)])
}
