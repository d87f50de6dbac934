package engine

import (
	"sort"

	"dtree-rule-compiler/internal/model"
)

// BuildPartitionTable splits [0, domain.Max] at the declared breakpoints.
// Bucket 1 is [0, b1], bucket k is (b(k-1), bk] and the last bucket is
// (bN, Max]. Without breakpoints the whole domain is bucket 1.
func BuildPartitionTable(domain model.FieldDomain) model.PartitionTable {
	points := make([]uint64, len(domain.Breakpoints))
	copy(points, domain.Breakpoints)
	sort.Slice(points, func(i, j int) bool { return points[i] < points[j] })

	field := model.FieldDomain{Name: domain.Name, Max: domain.Max, Breakpoints: points}
	buckets := make([]model.Bucket, 0, len(points)+1)
	low := uint64(0)
	for _, p := range points {
		buckets = append(buckets, model.Bucket{Index: len(buckets) + 1, Low: low, High: p})
		low = p + 1
	}
	buckets = append(buckets, model.Bucket{Index: len(buckets) + 1, Low: low, High: domain.Max})
	return model.PartitionTable{Field: field, Buckets: buckets}
}

// Lookup returns the index of the bucket containing v, or 0 when v is
// outside the domain.
func Lookup(table model.PartitionTable, v uint64) int {
	i := sort.Search(len(table.Buckets), func(i int) bool { return table.Buckets[i].High >= v })
	if i == len(table.Buckets) {
		return 0
	}
	return table.Buckets[i].Index
}
