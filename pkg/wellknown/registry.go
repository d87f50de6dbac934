package wellknown

import (
	"bytes"
	"encoding/csv"
	"io"
	"log"
	"sort"
	"strconv"
	"strings"

	_ "embed"

	"dtree-rule-compiler/internal/model"
)

//go:embed well_known.csv
var wellKnownData string

type Entry struct {
	Kind  model.FieldKind
	Name  string
	Value uint64
}

var (
	byName  map[model.FieldKind]map[string]Entry
	byValue map[model.FieldKind]map[uint64]Entry
)

func init() {
	byName = make(map[model.FieldKind]map[string]Entry)
	byValue = make(map[model.FieldKind]map[uint64]Entry)
	reader := csv.NewReader(bytes.NewBufferString(wellKnownData))
	reader.TrimLeadingSpace = true
	// Skip header
	if _, err := reader.Read(); err != nil {
		log.Fatalf("Failed to read header from embedded well_known.csv: %v", err)
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("Failed to parse embedded well_known.csv: %v", err)
		}
		if len(record) < 3 {
			continue
		}

		value, err := strconv.ParseUint(record[1], 10, 64)
		if err != nil {
			continue
		}
		kind := model.FieldKind(strings.TrimSpace(record[0]))
		entry := Entry{Kind: kind, Name: strings.TrimSpace(record[2]), Value: value}
		if byName[kind] == nil {
			byName[kind] = make(map[string]Entry)
			byValue[kind] = make(map[uint64]Entry)
		}
		byName[kind][strings.ToUpper(entry.Name)] = entry
		byValue[kind][value] = entry
		if len(record) > 3 {
			for _, alias := range strings.Fields(record[3]) {
				byName[kind][strings.ToUpper(alias)] = entry
			}
		}
	}
}

// Lookup resolves a protocol or service name, case-insensitively.
func Lookup(kind model.FieldKind, name string) (Entry, bool) {
	entry, ok := byName[kind][strings.ToUpper(name)]
	return entry, ok
}

// Name returns the registered name for a protocol number or port.
func Name(kind model.FieldKind, value uint64) (string, bool) {
	entry, ok := byValue[kind][value]
	return entry.Name, ok
}

// Within returns the names registered for values in [low, high], ordered by value.
func Within(kind model.FieldKind, low, high uint64) []string {
	var values []uint64
	for v := range byValue[kind] {
		if v >= low && v <= high {
			values = append(values, v)
		}
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	names := make([]string, 0, len(values))
	for _, v := range values {
		names = append(names, byValue[kind][v].Name)
	}
	return names
}
