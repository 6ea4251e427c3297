package recorder

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
)

// ErrUnknownMetric is returned for a history query on a metric that is not recorded.
var ErrUnknownMetric = fmt.Errorf("unknown metric")

// HistoryPoint is one recorded value.
type HistoryPoint struct {
	Time   string  `json:"time"` // RFC3339
	Value  float64 `json:"value"`
	Source string  `json:"source,omitempty"`
}

type HistoryQuery struct {
	Metric  string
	Minutes int
	Limit   int
}

// Normalize clamps the window and the limit to sane bounds.
func (q HistoryQuery) Normalize() HistoryQuery {
	if q.Minutes < 1 {
		q.Minutes = 60
	}
	if q.Minutes > 7*24*60 {
		q.Minutes = 7 * 24 * 60
	}
	if q.Limit < 1 {
		q.Limit = 100
	}
	if q.Limit > 1000 {
		q.Limit = 1000
	}
	return q
}

// History reads recorded readings back for the report view.
type History struct {
	influx influxdb2.Client
	org    string
	bucket string
}

func NewHistory(c influxdb2.Client, org, bucket string) *History {
	return &History{influx: c, org: org, bucket: bucket}
}

func buildFlux(bucket, field string, minutes, limit int) string {
	return fmt.Sprintf(`
from(bucket: %q)
  |> range(start: -%dm)
  |> filter(fn: (r) => r._measurement == %q)
  |> filter(fn: (r) => r._field == %q)
  |> keep(columns: ["_time","_value","source"])
  |> sort(columns: ["_time"], desc: true)
  |> limit(n:%d)
`, bucket, minutes, MeasurementReading, field, limit)
}

func (h *History) Query(ctx context.Context, q HistoryQuery) ([]HistoryPoint, error) {
	q = q.Normalize()
	field, ok := fieldFor[q.Metric]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, q.Metric)
	}

	res, err := h.influx.QueryAPI(h.org).Query(ctx, buildFlux(h.bucket, field, q.Minutes, q.Limit))
	if err != nil {
		return nil, fmt.Errorf("influx query: %w", err)
	}
	defer res.Close()

	out := make([]HistoryPoint, 0, q.Limit)
	for res.Next() {
		rec := res.Record()
		p := HistoryPoint{
			Time:  rec.Time().UTC().Format(time.RFC3339),
			Value: toF64(rec.Value()),
		}
		if v, ok := rec.ValueByKey("source").(string); ok {
			p.Source = v
		}
		out = append(out, p)
	}
	if err := res.Err(); err != nil {
		return out, fmt.Errorf("influx iterate: %w", err)
	}
	return out, nil
}

func toF64(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case uint64:
		return float64(t)
	case bool:
		if t {
			return 1
		}
		return 0
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f
		}
	}
	return 0
}
