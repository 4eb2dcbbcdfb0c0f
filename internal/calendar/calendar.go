// Package calendar knows the regular trading sessions of the exchanges shown
// on the dashboard. Holidays are not modelled.
package calendar

import (
	"fmt"
	"sort"
	"time"
	_ "time/tzdata"

	"github.com/benbjohnson/clock"
)

// Exchange describes the regular session of a venue. Times are minutes after
// local midnight.
type Exchange struct {
	Code       string
	Name       string
	Zone       string
	Open       int
	Close      int
	LunchStart int
	LunchEnd   int
	Weekdays   []time.Weekday
}

var monFri = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}

func hm(h, m int) int { return h*60 + m }

// Exchanges lists the known venues keyed by code.
var Exchanges = map[string]Exchange{
	"NYSE":     {Code: "NYSE", Name: "New York Stock Exchange", Zone: "America/New_York", Open: hm(9, 30), Close: hm(16, 0), Weekdays: monFri},
	"NASDAQ":   {Code: "NASDAQ", Name: "Nasdaq", Zone: "America/New_York", Open: hm(9, 30), Close: hm(16, 0), Weekdays: monFri},
	"LSE":      {Code: "LSE", Name: "London Stock Exchange", Zone: "Europe/London", Open: hm(8, 0), Close: hm(16, 30), Weekdays: monFri},
	"XETRA":    {Code: "XETRA", Name: "Xetra", Zone: "Europe/Berlin", Open: hm(9, 0), Close: hm(17, 30), Weekdays: monFri},
	"EURONEXT": {Code: "EURONEXT", Name: "Euronext Paris", Zone: "Europe/Paris", Open: hm(9, 0), Close: hm(17, 30), Weekdays: monFri},
	"TSE":      {Code: "TSE", Name: "Tokyo Stock Exchange", Zone: "Asia/Tokyo", Open: hm(9, 0), Close: hm(15, 0), LunchStart: hm(11, 30), LunchEnd: hm(12, 30), Weekdays: monFri},
	"HKEX":     {Code: "HKEX", Name: "Hong Kong Exchanges", Zone: "Asia/Hong_Kong", Open: hm(9, 30), Close: hm(16, 0), LunchStart: hm(12, 0), LunchEnd: hm(13, 0), Weekdays: monFri},
	"SSE":      {Code: "SSE", Name: "Shanghai Stock Exchange", Zone: "Asia/Shanghai", Open: hm(9, 30), Close: hm(15, 0), LunchStart: hm(11, 30), LunchEnd: hm(13, 0), Weekdays: monFri},
	"ASX":      {Code: "ASX", Name: "Australian Securities Exchange", Zone: "Australia/Sydney", Open: hm(10, 0), Close: hm(16, 0), Weekdays: monFri},
	"NSE":      {Code: "NSE", Name: "National Stock Exchange of India", Zone: "Asia/Kolkata", Open: hm(9, 15), Close: hm(15, 30), Weekdays: monFri},
	"ISX":      {Code: "ISX", Name: "Iraq Stock Exchange", Zone: "Asia/Baghdad", Open: hm(10, 0), Close: hm(13, 0), Weekdays: []time.Weekday{time.Sunday, time.Monday, time.Tuesday, time.Wednesday, time.Thursday}},
}

// Status is the state of an exchange at a point in time.
type Status struct {
	Code       string    `json:"code"`
	Name       string    `json:"name"`
	Open       bool      `json:"open"`
	LocalTime  string    `json:"localTime"`
	NextChange time.Time `json:"nextChange"`
}

func (e Exchange) tradesOn(d time.Weekday) bool {
	for _, w := range e.Weekdays {
		if w == d {
			return true
		}
	}
	return false
}

// segments returns the continuous trading intervals of one day.
func (e Exchange) segments() [][2]int {
	if e.LunchStart > 0 && e.LunchEnd > e.LunchStart {
		return [][2]int{{e.Open, e.LunchStart}, {e.LunchEnd, e.Close}}
	}
	return [][2]int{{e.Open, e.Close}}
}

func (e Exchange) isOpen(local time.Time) bool {
	if !e.tradesOn(local.Weekday()) {
		return false
	}
	m := local.Hour()*60 + local.Minute()
	for _, seg := range e.segments() {
		if m >= seg[0] && m < seg[1] {
			return true
		}
	}
	return false
}

// nextChange finds the next session boundary strictly after local, scanning a week ahead.
func (e Exchange) nextChange(local time.Time) time.Time {
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	for i := 0; i < 8; i++ {
		d := day.AddDate(0, 0, i)
		if !e.tradesOn(d.Weekday()) {
			continue
		}
		for _, seg := range e.segments() {
			for _, m := range seg {
				t := time.Date(d.Year(), d.Month(), d.Day(), m/60, m%60, 0, 0, d.Location())
				if t.After(local) {
					return t
				}
			}
		}
	}
	return time.Time{}
}

// Calendar answers session questions against a clock.
type Calendar struct {
	clock clock.Clock
	zones map[string]*time.Location
}

// New loads the time zones of all exchanges. clk may be nil for the wall clock.
func New(clk clock.Clock) (*Calendar, error) {
	if clk == nil {
		clk = clock.New()
	}
	c := &Calendar{clock: clk, zones: make(map[string]*time.Location)}
	for code, e := range Exchanges {
		loc, err := time.LoadLocation(e.Zone)
		if err != nil {
			return nil, fmt.Errorf("error loading zone %s for %s: %w", e.Zone, code, err)
		}
		c.zones[code] = loc
	}
	return c, nil
}

// Status reports whether the exchange is trading now.
func (c *Calendar) Status(code string) (Status, error) {
	e, ok := Exchanges[code]
	if !ok {
		return Status{}, fmt.Errorf("unknown exchange %q", code)
	}
	local := c.clock.Now().In(c.zones[code])
	return Status{
		Code:       code,
		Name:       e.Name,
		Open:       e.isOpen(local),
		LocalTime:  local.Format("Mon 15:04 MST"),
		NextChange: e.nextChange(local).UTC(),
	}, nil
}

// All reports every exchange sorted by code.
func (c *Calendar) All() []Status {
	codes := make([]string, 0, len(Exchanges))
	for code := range Exchanges {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	out := make([]Status, 0, len(codes))
	for _, code := range codes {
		s, _ := c.Status(code)
		out = append(out, s)
	}
	return out
}
