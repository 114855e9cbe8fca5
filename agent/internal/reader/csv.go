package reader

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fieldgrid/fieldgrid/pkg/types"
)

const (
	colTestType = iota
	colTimestamp
	colValue
	colLongitude
	colLatitude
	colStatus
	colSource
	colTechnician
	numCols
)

// Header aliases, compared after lowercasing and stripping '_' and '-'.
var headerAliases = map[string]int{
	"testtypeid": colTestType,
	"testtype":   colTestType,
	"test":       colTestType,
	"timestamp":  colTimestamp,
	"time":       colTimestamp,
	"ts":         colTimestamp,
	"value":      colValue,
	"longitude":  colLongitude,
	"lon":        colLongitude,
	"lng":        colLongitude,
	"latitude":   colLatitude,
	"lat":        colLatitude,
	"status":     colStatus,
	"source":     colSource,
	"technician": colTechnician,
}

var requiredCols = []struct {
	col  int
	name string
}{
	{colTestType, "testTypeId"},
	{colTimestamp, "timestamp"},
	{colValue, "value"},
	{colLongitude, "longitude"},
	{colLatitude, "latitude"},
}

// ParseCSV reads a header row followed by one measurement per row.
// Unknown columns are ignored.
func ParseCSV(r io.Reader) ([]types.BatchItem, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("empty csv")
	}
	if err != nil {
		return nil, fmt.Errorf("csv header: %w", err)
	}

	idx := make([]int, numCols)
	for i := range idx {
		idx[i] = -1
	}
	norm := strings.NewReplacer("_", "", "-", "", " ", "")
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		key := norm.Replace(strings.ToLower(strings.TrimSpace(h)))
		if c, ok := headerAliases[key]; ok && idx[c] < 0 {
			idx[c] = i
		}
	}
	for _, rc := range requiredCols {
		if idx[rc.col] < 0 {
			return nil, fmt.Errorf("csv header: missing column %q", rc.name)
		}
	}

	var items []types.BatchItem
	for row := 1; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ParseError{Row: row, Err: err}
		}
		if blank(rec) {
			continue
		}
		item, err := csvItem(rec, idx)
		if err != nil {
			var pe *ParseError
			if errors.As(err, &pe) {
				pe.Row = row
			}
			return nil, err
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("csv has no data rows")
	}
	return items, nil
}

func csvItem(rec []string, idx []int) (types.BatchItem, error) {
	get := func(c int) string {
		if idx[c] < 0 || idx[c] >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[idx[c]])
	}

	var item types.BatchItem
	item.TestTypeID = get(colTestType)
	if item.TestTypeID == "" {
		return item, &ParseError{Field: "testTypeId", Err: errors.New("required")}
	}

	ts, err := time.Parse(time.RFC3339, get(colTimestamp))
	if err != nil {
		return item, &ParseError{Field: "timestamp", Err: err}
	}
	item.Timestamp = ts

	v, err := parseFloat(get(colValue))
	if err != nil {
		return item, &ParseError{Field: "value", Err: err}
	}
	item.Value = &v

	if item.Longitude, err = parseFloat(get(colLongitude)); err != nil {
		return item, &ParseError{Field: "longitude", Err: err}
	}
	if item.Latitude, err = parseFloat(get(colLatitude)); err != nil {
		return item, &ParseError{Field: "latitude", Err: err}
	}

	item.Status = get(colStatus)
	item.Source = get(colSource)
	item.Technician = get(colTechnician)
	return item, nil
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, errors.New("required")
	}
	return strconv.ParseFloat(s, 64)
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
