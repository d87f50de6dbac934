package engine

import (
	"dtree-rule-compiler/internal/model"
	"dtree-rule-compiler/internal/parser"
)

// FoldRange intersects every term on domain.Name into one admissible
// interval, starting from the full domain.
func FoldRange(terms []model.Term, domain model.FieldDomain) model.ValueRange {
	vr := model.ValueRange{Min: 0, Max: int64(domain.Max)}
	for _, t := range terms {
		if t.Field != domain.Name {
			continue
		}
		// Clamp so that values past the domain cannot overflow int64.
		v := int64(min(t.Value, domain.Max+1))
		switch t.Op {
		case model.OpLT:
			vr.Max = min(vr.Max, v-1)
		case model.OpLE:
			vr.Max = min(vr.Max, v)
		case model.OpGT:
			vr.Min = max(vr.Min, v+1)
		case model.OpGE:
			vr.Min = max(vr.Min, v)
		case model.OpEQ:
			vr.Min = max(vr.Min, v)
			vr.Max = min(vr.Max, v)
		}
	}
	return vr
}

// ExtractRange tokenizes a raw condition and folds the terms on one field.
func ExtractRange(condition string, domain model.FieldDomain) (model.ValueRange, error) {
	terms, err := parser.ParseCondition(condition, nil)
	if err != nil {
		return model.ValueRange{}, err
	}
	return FoldRange(terms, domain), nil
}

// MapToBuckets converts a value interval to the interval of bucket indices
// covering it. The start bucket is the first whose upper bound reaches
// vr.Min, the end bucket the first whose upper bound reaches vr.Max.
func MapToBuckets(table model.PartitionTable, vr model.ValueRange) (model.BucketRange, error) {
	if vr.Min > vr.Max {
		return model.BucketRange{}, &model.DegenerateRangeError{Field: table.Field.Name, Min: vr.Min, Max: vr.Max}
	}
	br := model.BucketRange{Start: 1, End: 1}
	for _, b := range table.Buckets {
		if int64(b.High) >= vr.Min {
			br.Start = b.Index
			break
		}
	}
	for _, b := range table.Buckets {
		if int64(b.High) >= vr.Max {
			br.End = b.Index
			break
		}
	}
	return br, nil
}
