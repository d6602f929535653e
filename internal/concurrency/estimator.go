// Package concurrency computes, for one year of validated trips, how many
// trips are simultaneously in progress over time. Time is partitioned into
// fixed-width contiguous buckets and each bucket counts the trips whose
// interval overlaps it. The peak bucket count feeds fleet-size forecasting.
package concurrency

import (
	"log/slog"
	"time"

	"velostat.bikedata.org/internal/logging"
	"velostat.bikedata.org/internal/models"
)

// DefaultBucketWidth trades resolution for cost: fleet-sizing decisions do
// not need second-level resolution, and 2-minute buckets keep a full year
// around a quarter-million buckets.
const DefaultBucketWidth = 2 * time.Minute

// Series is the per-bucket concurrency of one year. Bucket i covers the
// half-open interval [Origin+i*Width, Origin+(i+1)*Width).
type Series struct {
	Origin time.Time
	Width  time.Duration
	Counts []int
}

// Estimate buckets the span [min start, max end] of the trip set and counts
// overlapping trips per bucket.
//
// A trip overlaps a bucket iff trip.start < bucket.end && trip.end >
// bucket.start; the half-open rule keeps boundary instants from being
// counted twice. The sweep is a difference array indexed by bucket (+1 at
// the first overlapped bucket, -1 past the last) followed by one prefix-sum
// pass, so cost is O(trips + buckets) and no trips-by-buckets intermediate
// ever exists. Trip counts reach the millions per year; anything quadratic
// is unusable here.
func Estimate(trips []models.Trip, width time.Duration) *Series {
	logger := logging.ForComponent("concurrency_estimator")

	if width <= 0 {
		width = DefaultBucketWidth
	}
	if len(trips) == 0 {
		return &Series{Width: width}
	}

	origin := trips[0].StartTime
	spanEnd := trips[0].EndTime
	for _, t := range trips[1:] {
		if t.StartTime.Before(origin) {
			origin = t.StartTime
		}
		if t.EndTime.After(spanEnd) {
			spanEnd = t.EndTime
		}
	}

	span := spanEnd.Sub(origin)
	numBuckets := int(span / width)
	if span%width != 0 || numBuckets == 0 {
		numBuckets++
	}

	diff := make([]int, numBuckets+1)
	for _, t := range trips {
		first := int(t.StartTime.Sub(origin) / width)

		endOffset := t.EndTime.Sub(origin)
		last := int(endOffset / width)
		if endOffset%width == 0 {
			// An end exactly on a bucket boundary does not reach into the
			// bucket that starts there.
			last--
		}
		if last >= numBuckets {
			last = numBuckets - 1
		}
		if last < first {
			// Zero-duration trip sitting exactly on a boundary: its empty
			// interval overlaps nothing.
			continue
		}

		diff[first]++
		diff[last+1]--
	}

	counts := make([]int, numBuckets)
	running := 0
	for i := 0; i < numBuckets; i++ {
		running += diff[i]
		counts[i] = running
	}

	series := &Series{Origin: origin, Width: width, Counts: counts}

	peak, peakIdx := series.Peak()
	logging.LogOperation(logger, "concurrency_estimated",
		slog.Int("trips", len(trips)),
		slog.Int("buckets", numBuckets),
		slog.Int("peak", peak),
		slog.Time("peak_bucket_start", series.BucketStart(peakIdx)))

	return series
}

// Peak returns the maximum bucket count and the index of the first bucket
// attaining it.
func (s *Series) Peak() (count, bucketIndex int) {
	for i, c := range s.Counts {
		if c > count {
			count = c
			bucketIndex = i
		}
	}
	return count, bucketIndex
}

// BucketStart returns the start instant of bucket i.
func (s *Series) BucketStart(i int) time.Time {
	return s.Origin.Add(time.Duration(i) * s.Width)
}

// Points materializes the series as one record per bucket.
func (s *Series) Points() []models.ConcurrencyPoint {
	points := make([]models.ConcurrencyPoint, len(s.Counts))
	for i, c := range s.Counts {
		points[i] = models.ConcurrencyPoint{
			BucketIndex: i,
			BucketStart: s.BucketStart(i),
			Count:       c,
		}
	}
	return points
}
