// Package session answers "is the venue open right now" from a weekday +
// local-exchange-time window, with an optional holiday list. Unknown venues
// and unloadable timezones report closed, which keeps the engine on the
// rate-limited pull path rather than assuming a live push channel is safe.
package session

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Hours describes one venue's trading window.
type Hours struct {
	Timezone string         // IANA timezone name (e.g., "America/New_York")
	Open     string         // Local open time "HH:MM"
	Close    string         // Local close time "HH:MM"
	Days     []time.Weekday // Trading days; empty means Monday–Friday
	Holidays []string       // Closed dates, "YYYY-MM-DD" in venue-local time
}

// venueHours is the compiled form of Hours.
type venueHours struct {
	loc      *time.Location
	openMin  int // minutes from local midnight
	closeMin int
	days     map[time.Weekday]bool
	holidays map[string]bool
}

// Calendar is a deterministic market-session clock over a fixed venue table.
type Calendar struct {
	logger *slog.Logger

	mu     sync.RWMutex
	venues map[string]*venueHours
}

// NewCalendar creates an empty calendar.
func NewCalendar(logger *slog.Logger) *Calendar {
	if logger == nil {
		logger = slog.Default()
	}
	return &Calendar{
		logger: logger,
		venues: make(map[string]*venueHours),
	}
}

// AddVenue registers trading hours for a venue.
func (c *Calendar) AddVenue(venue string, h Hours) error {
	loc, err := time.LoadLocation(h.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone %q: %w", h.Timezone, err)
	}

	openMin, err := parseClock(h.Open)
	if err != nil {
		return fmt.Errorf("parse open time: %w", err)
	}
	closeMin, err := parseClock(h.Close)
	if err != nil {
		return fmt.Errorf("parse close time: %w", err)
	}
	if closeMin <= openMin {
		return fmt.Errorf("close %q must be after open %q", h.Close, h.Open)
	}

	days := make(map[time.Weekday]bool)
	if len(h.Days) == 0 {
		for d := time.Monday; d <= time.Friday; d++ {
			days[d] = true
		}
	} else {
		for _, d := range h.Days {
			days[d] = true
		}
	}

	holidays := make(map[string]bool, len(h.Holidays))
	for _, d := range h.Holidays {
		holidays[d] = true
	}

	c.mu.Lock()
	c.venues[strings.ToUpper(venue)] = &venueHours{
		loc:      loc,
		openMin:  openMin,
		closeMin: closeMin,
		days:     days,
		holidays: holidays,
	}
	c.mu.Unlock()

	return nil
}

// IsOpen reports whether the venue is trading at the given instant.
// Unknown venues report closed.
func (c *Calendar) IsOpen(venue string, at time.Time) bool {
	v := c.lookup(venue)
	if v == nil {
		return false
	}

	local := at.In(v.loc)
	if !v.days[local.Weekday()] {
		return false
	}
	if v.holidays[local.Format("2006-01-02")] {
		return false
	}

	min := local.Hour()*60 + local.Minute()
	return min >= v.openMin && min < v.closeMin
}

// NextTransition returns the next session boundary (open or close) after the
// given instant. ok is false for unknown venues.
func (c *Calendar) NextTransition(venue string, at time.Time) (next time.Time, ok bool) {
	v := c.lookup(venue)
	if v == nil {
		return time.Time{}, false
	}

	local := at.In(v.loc)
	if c.IsOpen(venue, at) {
		midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, v.loc)
		return midnight.Add(time.Duration(v.closeMin) * time.Minute), true
	}

	// Scan forward for the next trading day's open. Two weeks bounds any
	// weekend/holiday run worth modeling here.
	for i := 0; i < 14; i++ {
		day := local.AddDate(0, 0, i)
		if !v.days[day.Weekday()] || v.holidays[day.Format("2006-01-02")] {
			continue
		}
		midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, v.loc)
		open := midnight.Add(time.Duration(v.openMin) * time.Minute)
		if open.After(at) {
			return open, true
		}
	}

	return time.Time{}, false
}

func (c *Calendar) lookup(venue string) *venueHours {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.venues[strings.ToUpper(venue)]
}

// parseClock parses "HH:MM" into minutes from midnight.
func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}
