// Package spatial provides an R-tree index over canonical stations and the
// near-duplicate diagnostic built on it.
//
// Deduplication merges on exact coordinate equality only. Stations that sit
// within a few meters of each other but do not share exact coordinates are
// therefore kept apart; this package reports such pairs so the discrepancy
// is visible without changing merge semantics.
package spatial

import (
	"github.com/tidwall/rtree"

	"velostat.bikedata.org/internal/models"
	"velostat.bikedata.org/internal/utils"
)

// Index is a spatial index over stations with coordinates.
type Index struct {
	tree rtree.RTreeG[models.Station]
}

// NewIndex builds an index over every station that has coordinates.
// Stations without coordinates are not indexable and are skipped.
func NewIndex(stations []models.Station) *Index {
	ix := &Index{}
	for _, s := range stations {
		if !s.HasCoordinates() {
			continue
		}
		pt := [2]float64{s.Lon.Float64, s.Lat.Float64}
		ix.tree.Insert(pt, pt, s)
	}
	return ix
}

// Within returns the stations within radiusMeters of (lat, lon).
func (ix *Index) Within(lat, lon, radiusMeters float64) []models.Station {
	bounds := utils.CalculateBounds(lat, lon, radiusMeters)

	var hits []models.Station
	ix.tree.Search(
		[2]float64{bounds.MinLon, bounds.MinLat},
		[2]float64{bounds.MaxLon, bounds.MaxLat},
		func(_, _ [2]float64, s models.Station) bool {
			if utils.Distance(lat, lon, s.Lat.Float64, s.Lon.Float64) <= radiusMeters {
				hits = append(hits, s)
			}
			return true
		},
	)
	return hits
}

// NearPair is a pair of distinct canonical stations closer than the
// diagnostic radius.
type NearPair struct {
	A      models.Station
	B      models.Station
	Meters float64
}

// NearDuplicates returns every pair of distinct canonical stations within
// radiusMeters of each other. Pairs are reported once, lower ID first.
func NearDuplicates(stations []models.Station, radiusMeters float64) []NearPair {
	ix := NewIndex(stations)

	var pairs []NearPair
	for _, s := range stations {
		if !s.HasCoordinates() {
			continue
		}
		for _, other := range ix.Within(s.Lat.Float64, s.Lon.Float64, radiusMeters) {
			if other.ID <= s.ID {
				continue
			}
			pairs = append(pairs, NearPair{
				A:      s,
				B:      other,
				Meters: utils.Distance(s.Lat.Float64, s.Lon.Float64, other.Lat.Float64, other.Lon.Float64),
			})
		}
	}
	return pairs
}
