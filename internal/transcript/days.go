package transcript

import (
	"slices"
	"time"
)

// DayKeyLayout renders a calendar day as DD/MM/YYYY.
const DayKeyLayout = "02/01/2006"

// DayBucket holds the turns of one calendar day in insertion order.
type DayBucket struct {
	Key   string `json:"date"`
	Turns []Turn `json:"turns"`

	day time.Time
}

// GroupByDay buckets turns by the calendar day of their timestamp in loc.
// Buckets are ordered newest day first; turns keep their input order
// within a bucket. Grouping the Flatten of a result yields the same result.
func GroupByDay(turns []Turn, loc *time.Location) []DayBucket {
	if loc == nil {
		loc = time.Local
	}

	index := map[string]int{}
	var buckets []DayBucket
	for _, t := range turns {
		local := t.Timestamp.In(loc)
		key := local.Format(DayKeyLayout)
		i, ok := index[key]
		if !ok {
			i = len(buckets)
			index[key] = i
			y, m, d := local.Date()
			buckets = append(buckets, DayBucket{Key: key, day: time.Date(y, m, d, 0, 0, 0, 0, loc)})
		}
		buckets[i].Turns = append(buckets[i].Turns, t)
	}

	slices.SortStableFunc(buckets, func(a, b DayBucket) int {
		return b.day.Compare(a.day)
	})
	return buckets
}

// Flatten concatenates bucket turns in bucket order.
func Flatten(buckets []DayBucket) []Turn {
	var out []Turn
	for _, b := range buckets {
		out = append(out, b.Turns...)
	}
	return out
}
