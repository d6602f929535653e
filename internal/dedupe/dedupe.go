// Package dedupe merges stations that share an exact coordinate into a
// single canonical station and rewrites trip references accordingly.
//
// Coordinate equality is exact float64 equality on purpose: the values of
// one year originate from a shared upstream source, so identical locations
// carry bit-identical coordinates. A distance tolerance would change merge
// semantics; near-misses are only reported, never merged (see
// internal/spatial).
package dedupe

import (
	"fmt"
	"log/slog"
	"sort"

	"velostat.bikedata.org/internal/logging"
	"velostat.bikedata.org/internal/models"
	"velostat.bikedata.org/internal/normalize"
)

// coordKey groups candidates by exact coordinate equality. Candidates
// missing either coordinate never enter a group.
type coordKey struct {
	lat float64
	lon float64
}

// Result is the outcome of deduplicating one year's candidate set.
type Result struct {
	// Stations is the canonical station set: exactly one station per
	// distinct coordinate pair, plus one singleton per candidate without
	// coordinates.
	Stations []models.Station

	// Remap maps every collapsed (non-canonical) station ID to its
	// canonical representative. Only the separate-file class produces
	// entries; embedded-class candidates have no IDs before dedup.
	Remap map[int64]int64

	// Merged counts candidate rows collapsed into another station.
	Merged int

	canonical map[int64]bool
	byRef     map[normalize.RefKey]int64
}

// DeduplicateByID deduplicates the candidate set of a separate-file year,
// where every candidate already carries a station ID. Within a coordinate
// group the smallest ID wins and keeps its row's attributes; all other
// member IDs are remapped to it. Duplicate IDs keep their first row.
func DeduplicateByID(candidates []models.StationCandidate) (*Result, error) {
	logger := logging.ForComponent("station_dedupe")

	res := &Result{
		Remap:     make(map[int64]int64),
		canonical: make(map[int64]bool),
	}

	groups := make(map[coordKey][]models.StationCandidate)
	var order []coordKey
	var noCoord []models.StationCandidate
	seenID := make(map[int64]bool)

	for _, c := range candidates {
		if !c.ID.Valid {
			return nil, fmt.Errorf("station candidate without an id in id-keyed deduplication")
		}
		if seenID[c.ID.Int64] {
			res.Merged++
			continue
		}
		seenID[c.ID.Int64] = true

		if !c.HasCoordinates() {
			noCoord = append(noCoord, c)
			continue
		}
		key := coordKey{lat: c.Lat.Float64, lon: c.Lon.Float64}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], c)
	}

	for _, key := range order {
		group := groups[key]

		canonical := group[0]
		for _, c := range group[1:] {
			if c.ID.Int64 < canonical.ID.Int64 {
				canonical = c
			}
		}

		res.Stations = append(res.Stations, stationFromCandidate(canonical, canonical.ID.Int64))
		res.canonical[canonical.ID.Int64] = true

		for _, c := range group {
			if c.ID.Int64 == canonical.ID.Int64 {
				continue
			}
			res.Remap[c.ID.Int64] = canonical.ID.Int64
			res.Merged++
		}
	}

	// Candidates without coordinates survive as their own stations; a
	// missing coordinate never equals another missing coordinate.
	for _, c := range noCoord {
		res.Stations = append(res.Stations, stationFromCandidate(c, c.ID.Int64))
		res.canonical[c.ID.Int64] = true
	}

	if err := res.collapseTransitive(); err != nil {
		return nil, err
	}

	sort.Slice(res.Stations, func(i, j int) bool {
		return res.Stations[i].ID < res.Stations[j].ID
	})

	logging.LogOperation(logger, "stations_deduplicated",
		slog.Int("candidates", len(candidates)),
		slog.Int("canonical", len(res.Stations)),
		slog.Int("merged", res.Merged))

	return res, nil
}

// DeduplicateEmbedded deduplicates the candidate set projected from the
// trip rows of an embedded-station year. No IDs exist before dedup;
// canonical IDs are assigned sequentially in first-appearance order of the
// surviving stations.
func DeduplicateEmbedded(candidates []models.StationCandidate) *Result {
	logger := logging.ForComponent("station_dedupe")

	res := &Result{
		Remap:     make(map[int64]int64),
		canonical: make(map[int64]bool),
		byRef:     make(map[normalize.RefKey]int64),
	}

	byCoord := make(map[coordKey]int64)
	nextID := int64(1)

	for _, c := range candidates {
		key := refKeyForCandidate(c)
		if _, ok := res.byRef[key]; ok {
			continue
		}

		if c.HasCoordinates() {
			ck := coordKey{lat: c.Lat.Float64, lon: c.Lon.Float64}
			if id, ok := byCoord[ck]; ok {
				// Same coordinate under a different attribute tuple:
				// collapse into the already-canonical station.
				res.byRef[key] = id
				res.Merged++
				continue
			}
			byCoord[ck] = nextID
		}

		res.Stations = append(res.Stations, stationFromCandidate(c, nextID))
		res.canonical[nextID] = true
		res.byRef[key] = nextID
		nextID++
	}

	logging.LogOperation(logger, "stations_deduplicated",
		slog.Int("candidates", len(candidates)),
		slog.Int("canonical", len(res.Stations)),
		slog.Int("merged", res.Merged))

	return res
}

// ResolveID maps a station ID to its canonical representative. IDs that
// were never collapsed pass through unchanged.
func (res *Result) ResolveID(id int64) int64 {
	if canonical, ok := res.Remap[id]; ok {
		return canonical
	}
	return id
}

// IsCanonical reports whether id belongs to the canonical station set.
func (res *Result) IsCanonical(id int64) bool {
	return res.canonical[id]
}

// collapseTransitive resolves remap chains so no entry maps to an ID that
// is itself remapped, then verifies the invariant. Chains should not arise
// from smallest-ID selection; leaving one unresolved would be a dedup bug.
func (res *Result) collapseTransitive() error {
	for old, canonical := range res.Remap {
		steps := 0
		for {
			next, ok := res.Remap[canonical]
			if !ok {
				break
			}
			canonical = next
			steps++
			if steps > len(res.Remap) {
				return fmt.Errorf("remap cycle detected at station id %d", old)
			}
		}
		res.Remap[old] = canonical
	}

	for old, canonical := range res.Remap {
		if _, ok := res.Remap[canonical]; ok {
			return fmt.Errorf("unresolved two-hop remap: %d -> %d", old, canonical)
		}
		if !res.canonical[canonical] {
			return fmt.Errorf("remap target %d for station %d is not canonical", canonical, old)
		}
	}
	return nil
}

func stationFromCandidate(c models.StationCandidate, id int64) models.Station {
	return models.Station{
		ID:       id,
		Name:     c.Name,
		Lat:      c.Lat,
		Lon:      c.Lon,
		District: c.District,
	}
}

func refKeyForCandidate(c models.StationCandidate) normalize.RefKey {
	return normalize.KeyForRef(models.StationRef{
		Name:     c.Name,
		Lat:      c.Lat,
		Lon:      c.Lon,
		District: c.District,
	})
}
