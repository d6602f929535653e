package dedupe

import (
	"fmt"

	"velostat.bikedata.org/internal/models"
	"velostat.bikedata.org/internal/normalize"
)

// CodedTrip is a separate-file-class trip whose station codes have already
// been coerced to numeric IDs (see internal/validate).
type CodedTrip struct {
	StartID int64
	EndID   int64
	Trip    models.RawTrip
}

// ReconcileIDs rewrites the station references of coerced trips through the
// remap. The rewrite touches nothing but the two reference fields. A
// reference that resolves to an ID outside the canonical station set is a
// referential-integrity violation and aborts the year: it indicates a
// deduplication bug or a trip referencing a station the station file never
// declared, neither of which is recoverable row noise.
func ReconcileIDs(trips []CodedTrip, res *Result) ([]models.ResolvedTrip, error) {
	resolved := make([]models.ResolvedTrip, 0, len(trips))

	for _, t := range trips {
		startID := res.ResolveID(t.StartID)
		endID := res.ResolveID(t.EndID)

		if !res.IsCanonical(startID) {
			return nil, fmt.Errorf("trip references unknown start station %d", t.StartID)
		}
		if !res.IsCanonical(endID) {
			return nil, fmt.Errorf("trip references unknown end station %d", t.EndID)
		}

		resolved = append(resolved, models.ResolvedTrip{
			StartStationID: startID,
			EndStationID:   endID,
			StartTime:      t.Trip.StartTime,
			EndTime:        t.Trip.EndTime,
			DurationSec:    t.Trip.DurationSec,
			IsMember:       t.Trip.IsMember,
		})
	}

	return resolved, nil
}

// ReconcileRefs rewrites embedded-class trips to canonical station IDs by
// looking up each side's attribute tuple. Every tuple was projected into
// the candidate set before deduplication, so a miss here is a pipeline bug,
// not a data error.
func ReconcileRefs(trips []models.RawTrip, res *Result) ([]models.ResolvedTrip, error) {
	if res.byRef == nil {
		return nil, fmt.Errorf("deduplication result carries no attribute index; not an embedded-class result")
	}

	resolved := make([]models.ResolvedTrip, 0, len(trips))

	for _, t := range trips {
		startID, ok := res.byRef[normalize.KeyForRef(t.StartRef)]
		if !ok {
			return nil, fmt.Errorf("trip start station %q was not projected into the candidate set", t.StartRef.Name.String)
		}
		endID, ok := res.byRef[normalize.KeyForRef(t.EndRef)]
		if !ok {
			return nil, fmt.Errorf("trip end station %q was not projected into the candidate set", t.EndRef.Name.String)
		}

		resolved = append(resolved, models.ResolvedTrip{
			StartStationID: startID,
			EndStationID:   endID,
			StartTime:      t.StartTime,
			EndTime:        t.EndTime,
			DurationSec:    t.DurationSec,
			IsMember:       t.IsMember,
		})
	}

	return resolved, nil
}
