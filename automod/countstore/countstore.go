// Automod component for counters bucketed by time period (hour, day, all time).
//
// The engine uses counters for the per-user block notice quota, scanned upload history (which decides whether an account is "new"), and distinct users with blocked uploads.
package countstore

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

type Period string

const (
	PeriodHour  Period = "hour"
	PeriodDay   Period = "day"
	PeriodTotal Period = "total"
)

// Every period a plain increment is recorded under.
var AllPeriods = []Period{PeriodHour, PeriodDay, PeriodTotal}

func ParsePeriod(raw string) (Period, error) {
	for _, p := range AllPeriods {
		if string(p) == raw {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown counter period: %q", raw)
}

// How long a bucket needs to be kept after it starts. Zero means forever.
func (p Period) retention() time.Duration {
	switch p {
	case PeriodHour:
		return 2 * time.Hour
	case PeriodDay:
		return 48 * time.Hour
	default:
		return 0
	}
}

// Suffix identifying the period bucket containing t, or "" for the all-time bucket.
func (p Period) bucket(t time.Time) string {
	switch p {
	case PeriodHour:
		return t.UTC().Format("2006-01-02T15")
	case PeriodDay:
		return t.UTC().Format(time.DateOnly)
	default:
		return ""
	}
}

// Identifies one counter: a counter family (eg, "block-notice") and the subject it counts for (eg, a user ID).
type Key struct {
	Name    string
	Subject string
}

func UserKey(name string, userID int64) Key {
	return Key{Name: name, Subject: strconv.FormatInt(userID, 10)}
}

func (k Key) String() string {
	return k.Name + "/" + k.Subject
}

func (k Key) bucket(p Period, t time.Time) string {
	if b := p.bucket(t); b != "" {
		return k.String() + "/" + b
	}
	return k.String()
}

type CountStore interface {
	GetCount(ctx context.Context, k Key, p Period) (int, error)
	// Increments the counter in every period.
	Increment(ctx context.Context, k Key) error
	// Atomically increments the counter's bucket for the period, unless it has already reached limit. Returns whether the increment happened. Other periods are not touched.
	TakeQuota(ctx context.Context, k Key, p Period, limit int) (bool, error)
	// Approximate number of distinct members added in the period.
	CountDistinct(ctx context.Context, k Key, p Period) (int, error)
	AddDistinct(ctx context.Context, k Key, member string) error
}
