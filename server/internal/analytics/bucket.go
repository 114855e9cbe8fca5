package analytics

import (
	"fmt"
	"strings"
	"time"
)

// Bucket is a calendar granularity for trend series.
type Bucket string

const (
	BucketHour  Bucket = "hour"
	BucketDay   Bucket = "day"
	BucketWeek  Bucket = "week"
	BucketMonth Bucket = "month"
)

// ParseBucket accepts hour, day, week or month.
func ParseBucket(s string) (Bucket, error) {
	switch b := Bucket(strings.ToLower(strings.TrimSpace(s))); b {
	case BucketHour, BucketDay, BucketWeek, BucketMonth:
		return b, nil
	}
	return "", fmt.Errorf("unknown bucket %q (want hour, day, week or month)", s)
}

// Floor returns the start of the bucket containing t, evaluated in loc.
// Weeks start on Monday.
func (b Bucket) Floor(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	y, m, d := t.Date()
	switch b {
	case BucketHour:
		return time.Date(y, m, d, t.Hour(), 0, 0, 0, loc)
	case BucketWeek:
		day := time.Date(y, m, d, 0, 0, 0, 0, loc)
		return day.AddDate(0, 0, -((int(day.Weekday()) + 6) % 7))
	case BucketMonth:
		return time.Date(y, m, 1, 0, 0, 0, 0, loc)
	default:
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	}
}

// Label formats a bucket start for display.
func (b Bucket) Label(start time.Time) string {
	switch b {
	case BucketHour:
		return start.Format("2006-01-02T15:00")
	case BucketWeek:
		y, w := start.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", y, w)
	case BucketMonth:
		return start.Format("2006-01")
	default:
		return start.Format("2006-01-02")
	}
}
