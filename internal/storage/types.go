package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	// ErrBadFilter marks a subscription row whose stored filter does not decode.
	ErrBadFilter = errors.New("undecodable subscription filter")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite" (alias "sqlite3"): SQLite database file at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means 5s
	// DisplayZone renders the *_date columns. nil means UTC+8.
	DisplayZone *time.Location
}

const displayLayout = "2006-01-02 15:04:05"

// ParseUTCOffset parses "+08:00", "-0530", "+8" or "UTC+8" into a fixed zone.
func ParseUTCOffset(raw string) (*time.Location, error) {
	s := strings.TrimSpace(strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(raw)), "UTC"))
	if s == "" || s == "Z" {
		return time.UTC, nil
	}
	sign := 1
	switch s[0] {
	case '+':
		s = s[1:]
	case '-':
		sign = -1
		s = s[1:]
	}
	var hh, mm int
	switch {
	case strings.Contains(s, ":"):
		if _, err := fmt.Sscanf(s, "%d:%d", &hh, &mm); err != nil {
			return nil, fmt.Errorf("invalid utc offset %q", raw)
		}
	case len(s) == 4:
		if _, err := fmt.Sscanf(s, "%02d%02d", &hh, &mm); err != nil {
			return nil, fmt.Errorf("invalid utc offset %q", raw)
		}
	default:
		if _, err := fmt.Sscanf(s, "%d", &hh); err != nil {
			return nil, fmt.Errorf("invalid utc offset %q", raw)
		}
	}
	if hh > 14 || mm > 59 || hh < 0 || mm < 0 {
		return nil, fmt.Errorf("invalid utc offset %q", raw)
	}
	off := sign * (hh*3600 + mm*60)
	name := fmt.Sprintf("UTC%+03d:%02d", sign*hh, mm)
	if sign < 0 && hh == 0 {
		name = fmt.Sprintf("UTC-00:%02d", mm)
	}
	return time.FixedZone(name, off), nil
}

// Table names a maintenance target.
type Table string

const (
	TableDeliveries    Table = "deliveries"
	TableArticles      Table = "articles"
	TableSubscriptions Table = "subscriptions"
)

// AllTables lists tables in safe truncation order (children first).
var AllTables = []Table{TableDeliveries, TableArticles, TableSubscriptions}

// ParseTables maps CLI names to tables. "all" expands to AllTables and
// "posts" is accepted as an alias for articles.
func ParseTables(names ...string) ([]Table, error) {
	seen := map[Table]bool{}
	for _, n := range names {
		switch strings.ToLower(strings.TrimSpace(n)) {
		case "all":
			for _, t := range AllTables {
				seen[t] = true
			}
		case "deliveries":
			seen[TableDeliveries] = true
		case "articles", "posts":
			seen[TableArticles] = true
		case "subscriptions":
			seen[TableSubscriptions] = true
		default:
			return nil, fmt.Errorf("unknown table %q", n)
		}
	}
	out := make([]Table, 0, len(seen))
	for _, t := range AllTables {
		if seen[t] {
			out = append(out, t)
		}
	}
	return out, nil
}

// Stats is a row-count snapshot for operators.
type Stats struct {
	Articles          int64            `json:"articles"`
	PendingArticles   int64            `json:"pending_articles"`
	PublishedArticles int64            `json:"published_articles"`
	Subscriptions     int64            `json:"subscriptions"`
	ActiveSubs        int64            `json:"active_subscriptions"`
	PendingSubs       int64            `json:"pending_subscriptions"`
	DisabledSubs      int64            `json:"disabled_subscriptions"`
	Deliveries        int64            `json:"deliveries"`
	DeliveriesStatus  map[string]int64 `json:"deliveries_by_status"`
}
