package concurrency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"velostat.bikedata.org/internal/models"
)

var origin = time.Date(2017, time.June, 1, 8, 0, 0, 0, time.UTC)

func trip(start, end time.Time) models.Trip {
	return models.Trip{StartStationID: 1, EndStationID: 2, StartTime: start, EndTime: end}
}

func TestEstimate_SingleTripSpansFiveBuckets(t *testing.T) {
	// A 10-minute trip with 2-minute buckets overlaps buckets 0 through 4.
	series := Estimate([]models.Trip{
		trip(origin, origin.Add(10*time.Minute)),
	}, 2*time.Minute)

	require.Len(t, series.Counts, 5)
	assert.Equal(t, []int{1, 1, 1, 1, 1}, series.Counts)
	assert.Equal(t, origin, series.Origin)
	assert.Equal(t, origin.Add(4*2*time.Minute), series.BucketStart(4))
}

func TestEstimate_EndOnBoundaryDoesNotReachNextBucket(t *testing.T) {
	series := Estimate([]models.Trip{
		trip(origin, origin.Add(10*time.Minute)),
		trip(origin.Add(10*time.Minute), origin.Add(12*time.Minute)),
	}, 2*time.Minute)

	// The first trip ends exactly where the second starts; the shared
	// instant is counted once.
	require.Len(t, series.Counts, 6)
	assert.Equal(t, []int{1, 1, 1, 1, 1, 1}, series.Counts)
}

func TestEstimate_ZeroDurationOnBoundary(t *testing.T) {
	series := Estimate([]models.Trip{
		trip(origin, origin.Add(4*time.Minute)),
		trip(origin.Add(2*time.Minute), origin.Add(2*time.Minute)),
	}, 2*time.Minute)

	// The empty interval sitting exactly on a bucket boundary overlaps no
	// bucket at all.
	assert.Equal(t, []int{1, 1}, series.Counts)
}

func TestEstimate_LoneZeroDurationTrip(t *testing.T) {
	series := Estimate([]models.Trip{
		trip(origin.Add(time.Minute), origin.Add(time.Minute)),
	}, 2*time.Minute)

	// Zero span still yields one bucket, but an empty interval never
	// overlaps it under the half-open rule.
	require.Len(t, series.Counts, 1)
	assert.Equal(t, []int{0}, series.Counts)
}

func TestEstimate_OverlapPeak(t *testing.T) {
	series := Estimate([]models.Trip{
		trip(origin, origin.Add(6*time.Minute)),
		trip(origin.Add(2*time.Minute), origin.Add(8*time.Minute)),
		trip(origin.Add(3*time.Minute), origin.Add(5*time.Minute)),
	}, 2*time.Minute)

	assert.Equal(t, []int{1, 3, 3, 1}, series.Counts)

	peak, idx := series.Peak()
	assert.Equal(t, 3, peak)
	assert.Equal(t, 1, idx)
	assert.Equal(t, origin.Add(2*time.Minute), series.BucketStart(idx))
}

func TestEstimate_PeakNeverExceedsTripCount(t *testing.T) {
	trips := []models.Trip{
		trip(origin, origin.Add(time.Hour)),
		trip(origin.Add(time.Minute), origin.Add(30*time.Minute)),
		trip(origin.Add(5*time.Minute), origin.Add(45*time.Minute)),
	}
	series := Estimate(trips, DefaultBucketWidth)

	peak, _ := series.Peak()
	assert.LessOrEqual(t, peak, len(trips))
	assert.Equal(t, 3, peak)
}

func TestEstimate_EmptyInput(t *testing.T) {
	series := Estimate(nil, 2*time.Minute)
	assert.Empty(t, series.Counts)

	peak, idx := series.Peak()
	assert.Zero(t, peak)
	assert.Zero(t, idx)
}

func TestEstimate_DefaultWidth(t *testing.T) {
	series := Estimate([]models.Trip{
		trip(origin, origin.Add(10*time.Minute)),
	}, 0)
	assert.Equal(t, DefaultBucketWidth, series.Width)
	assert.Len(t, series.Counts, 5)
}

func TestPoints(t *testing.T) {
	series := Estimate([]models.Trip{
		trip(origin, origin.Add(4*time.Minute)),
	}, 2*time.Minute)

	points := series.Points()
	require.Len(t, points, 2)
	assert.Equal(t, 0, points[0].BucketIndex)
	assert.Equal(t, origin, points[0].BucketStart)
	assert.Equal(t, 1, points[0].Count)
	assert.Equal(t, origin.Add(2*time.Minute), points[1].BucketStart)
}
