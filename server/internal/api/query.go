package api

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fieldgrid/fieldgrid/pkg/types"
	"github.com/fieldgrid/fieldgrid/server/internal/analytics"
	"github.com/fieldgrid/fieldgrid/server/internal/geo"
	"github.com/fieldgrid/fieldgrid/server/internal/store"
)

// queryParser parses query params and gathers every error in one sweep, so
// all invalid fields are reported at once.
type queryParser struct {
	errs types.ValidationError
}

func (p *queryParser) fail(param, format string, args ...any) {
	p.errs.Add(param, fmt.Sprintf(format, args...))
}

// Err returns the collected errors, or nil.
func (p *queryParser) Err() error { return p.errs.Err() }

func (p *queryParser) Int(vals url.Values, def int, param string) int {
	v, err := parseParam(vals, strconv.Atoi, def, param)
	if err != nil {
		p.fail(param, "must be a valid integer")
	}
	return v
}

func (p *queryParser) Float(vals url.Values, def float64, param string) float64 {
	v, err := parseParam(vals, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) }, def, param)
	if err != nil {
		p.fail(param, "must be a valid number")
	}
	return v
}

func (p *queryParser) Time(vals url.Values, param string) time.Time {
	v, err := parseParam(vals, func(s string) (time.Time, error) { return time.Parse(time.RFC3339, s) }, time.Time{}, param)
	if err != nil {
		p.fail(param, "must be an RFC 3339 timestamp")
	}
	return v
}

func (*queryParser) String(vals url.Values, def, param string) string {
	v, _ := parseParam(vals, func(s string) (string, error) { return s, nil }, def, param)
	return v
}

func (*queryParser) Strings(vals url.Values, param string) []string {
	v, _ := parseParam(vals, func(s string) ([]string, error) {
		var out []string
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	}, nil, param)
	return v
}

// parseList applies parse to every comma separated element of param.
func parseList[T any](p *queryParser, vals url.Values, param string, parse func(string) (T, error)) []T {
	var out []T
	for _, s := range p.Strings(vals, param) {
		v, err := parse(s)
		if err != nil {
			p.fail(param, "%s", err.Error())
			continue
		}
		out = append(out, v)
	}
	return out
}

func parseParam[T any](vals url.Values, parse func(string) (T, error), def T, param string) (T, error) {
	if !vals.Has(param) || vals.Get(param) == "" {
		return def, nil
	}
	return parse(vals.Get(param))
}

// bbox reads minLon, minLat, maxLon and maxLat. All four or none must be
// present.
func (p *queryParser) bbox(vals url.Values) *geo.BBox {
	names := [4]string{"minLon", "minLat", "maxLon", "maxLat"}
	var v [4]float64
	present := 0
	for i, n := range names {
		if vals.Get(n) != "" {
			present++
		}
		v[i] = p.Float(vals, 0, n)
	}
	switch present {
	case 0:
		return nil
	case 4:
		b := geo.BBox{MinLon: v[0], MinLat: v[1], MaxLon: v[2], MaxLat: v[3]}
		return &b
	default:
		p.fail("bbox", "minLon, minLat, maxLon and maxLat must be given together")
		return nil
	}
}

// filter builds the store query shared by every read endpoint.
func (p *queryParser) filter(projectID string, vals url.Values) store.Query {
	return store.Query{
		ProjectID:  projectID,
		BBox:       p.bbox(vals),
		From:       p.Time(vals, "from"),
		To:         p.Time(vals, "to"),
		TestTypeID: p.String(vals, "", "testTypeId"),
		Statuses:   parseList(p, vals, "status", types.ParseStatus),
	}
}

func (p *queryParser) kinds(vals url.Values) []store.Kind {
	return parseList(p, vals, "include", store.ParseKind)
}

func (p *queryParser) bucket(vals url.Values) analytics.Bucket {
	b, err := analytics.ParseBucket(p.String(vals, "day", "bucket"))
	if err != nil {
		p.fail("bucket", "must be one of hour, day, week, month")
	}
	return b
}

func (p *queryParser) location(vals url.Values) *time.Location {
	name := p.String(vals, "UTC", "tz")
	loc, err := time.LoadLocation(name)
	if err != nil {
		p.fail("tz", "unknown time zone %q", name)
		return time.UTC
	}
	return loc
}
