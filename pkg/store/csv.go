package store

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sanonone/pias/pkg/graph"
)

// ReadCSV parses "u,v,f1,f2,..." records into a Dataset. Blank lines and
// lines starting with '#' are skipped; a header line whose first field is not
// numeric is skipped too.
func ReadCSV(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	ds := &Dataset{}
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading csv: %w", err)
		}
		line++
		if len(record) < 3 {
			return nil, fmt.Errorf("record %d: need u,v and at least one feature, got %d fields", line, len(record))
		}

		u, err := strconv.ParseUint(strings.TrimSpace(record[0]), 10, 63)
		if err != nil {
			if line == 1 {
				continue // header
			}
			return nil, fmt.Errorf("record %d: bad u %q: %w", line, record[0], err)
		}
		v, err := strconv.ParseUint(strings.TrimSpace(record[1]), 10, 63)
		if err != nil {
			return nil, fmt.Errorf("record %d: bad v %q: %w", line, record[1], err)
		}

		features := make([]float64, 0, len(record)-2)
		for _, field := range record[2:] {
			f, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("record %d: bad feature %q: %w", line, field, err)
			}
			features = append(features, f)
		}

		ds.Edges = append(ds.Edges, graph.NewEdge(u, v))
		ds.Features = append(ds.Features, features)
	}

	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}
