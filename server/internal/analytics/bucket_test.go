package analytics

import (
	"testing"
	"time"
)

func TestBucketFloor(t *testing.T) {
	ts := time.Date(2024, 3, 7, 15, 42, 10, 0, time.UTC) // Thursday
	cases := []struct {
		b     Bucket
		want  time.Time
		label string
	}{
		{BucketHour, time.Date(2024, 3, 7, 15, 0, 0, 0, time.UTC), "2024-03-07T15:00"},
		{BucketDay, time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC), "2024-03-07"},
		{BucketWeek, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), "2024-W10"},
		{BucketMonth, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), "2024-03"},
	}
	for _, tc := range cases {
		got := tc.b.Floor(ts, time.UTC)
		if !got.Equal(tc.want) {
			t.Errorf("%s Floor: got %v, want %v", tc.b, got, tc.want)
		}
		if l := tc.b.Label(got); l != tc.label {
			t.Errorf("%s Label: got %q, want %q", tc.b, l, tc.label)
		}
	}
}

func TestBucketFloor_SundayBelongsToPreviousWeek(t *testing.T) {
	sun := time.Date(2024, 3, 10, 23, 0, 0, 0, time.UTC)
	got := BucketWeek.Floor(sun, time.UTC)
	if want := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("Floor(Sunday): got %v, want %v", got, want)
	}
}

func TestBucketFloor_Location(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	ts := time.Date(2024, 3, 7, 2, 0, 0, 0, time.UTC) // 21:00 on the 6th locally
	got := BucketDay.Floor(ts, loc)
	if want := time.Date(2024, 3, 6, 0, 0, 0, 0, loc); !got.Equal(want) {
		t.Errorf("Floor in UTC-5: got %v, want %v", got, want)
	}
}

func TestParseBucket(t *testing.T) {
	if b, err := ParseBucket(" Week "); err != nil || b != BucketWeek {
		t.Errorf("ParseBucket: got (%q, %v)", b, err)
	}
	if _, err := ParseBucket("decade"); err == nil {
		t.Error("ParseBucket(decade): expected error")
	}
}
