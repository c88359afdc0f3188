package model

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/user/edgegate/internal/apperr"
)

// Metric is a statistics metric family.
type Metric string

const (
	MetricInterface Metric = "interface"
	MetricTunnel    Metric = "tunnel"
)

// Interval is a statistics aggregation bucket.
type Interval string

const (
	Interval5Min Interval = "5min"
	Interval1Hr  Interval = "1hr"
	Interval1Day Interval = "1day"
)

var intervalSynonyms = map[string]Interval{
	"5min":  Interval5Min,
	"5m":    Interval5Min,
	"1hr":   Interval1Hr,
	"1h":    Interval1Hr,
	"1hour": Interval1Hr,
	"60m":   Interval1Hr,
	"60min": Interval1Hr,
	"1day":  Interval1Day,
	"1d":    Interval1Day,
	"24h":   Interval1Day,
}

// ParseInterval maps an interval string, including common synonyms, onto the
// fixed vocabulary. Anything else is a validation error.
func ParseInterval(s string) (Interval, error) {
	iv, ok := intervalSynonyms[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", apperr.Validationf("interval", "unsupported interval %q (want 5min, 1hr or 1day)", s)
	}
	return iv, nil
}

// Duration returns the bucket width.
func (i Interval) Duration() time.Duration {
	switch i {
	case Interval5Min:
		return 5 * time.Minute
	case Interval1Hr:
		return time.Hour
	case Interval1Day:
		return 24 * time.Hour
	}
	return 0
}

// HistogramHours is the entry_time histogram width requested from the controller.
func (i Interval) HistogramHours() int {
	switch i {
	case Interval1Day:
		return 24
	default:
		return 1
	}
}

// TimeRange is a closed statistics window.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

var relativeRange = regexp.MustCompile(`^last\s+(\d+)?\s*(hour|hours|hr|hrs|day|days)$`)

// ParseTimeRange resolves "last N hours|days" relative to now. The end is
// truncated to the interval bucket so equal relative ranges share a cache
// key within one bucket. An empty string means the last 24 hours.
func ParseTimeRange(s string, now time.Time, iv Interval) (TimeRange, error) {
	t := strings.ToLower(strings.TrimSpace(s))
	if t == "" {
		t = "last 24 hours"
	}
	m := relativeRange.FindStringSubmatch(t)
	if m == nil {
		return TimeRange{}, apperr.Validationf("time_range", "unsupported time range %q (want \"last N hours\" or \"last N days\")", s)
	}
	n := 1
	if m[1] != "" {
		v, err := strconv.Atoi(m[1])
		if err != nil || v <= 0 {
			return TimeRange{}, apperr.Validationf("time_range", "invalid count in time range %q", s)
		}
		n = v
	}
	unit := time.Hour
	if strings.HasPrefix(m[2], "day") {
		unit = 24 * time.Hour
	}

	end := now.UTC()
	if d := iv.Duration(); d > 0 {
		end = end.Truncate(d)
	}
	return TimeRange{Start: end.Add(-time.Duration(n) * unit), End: end}, nil
}

// StatQuery identifies one statistics series request.
type StatQuery struct {
	DeviceID  string    `json:"device_id"`
	Metric    Metric    `json:"metric"`
	Interval  Interval  `json:"interval"`
	Range     TimeRange `json:"range"`
	Interface string    `json:"interface,omitempty"`
	Color     string    `json:"color,omitempty"`
	RemoteIP  string    `json:"remote_system_ip,omitempty"`
}

// StatRequest is the string form of a StatQuery as accepted from the CLI and
// the JSON API.
type StatRequest struct {
	DeviceID  string `json:"device_id"`
	Metric    string `json:"metric"`
	Interval  string `json:"interval"`
	TimeRange string `json:"time_range"`
	Interface string `json:"interface,omitempty"`
	Color     string `json:"color,omitempty"`
	RemoteIP  string `json:"remote_system_ip,omitempty"`
}

// Query resolves r relative to now. Metric defaults to interface and
// interval to 5min.
func (r StatRequest) Query(now time.Time) (StatQuery, error) {
	metric := Metric(strings.ToLower(strings.TrimSpace(r.Metric)))
	if metric == "" {
		metric = MetricInterface
	}
	ivText := r.Interval
	if strings.TrimSpace(ivText) == "" {
		ivText = string(Interval5Min)
	}
	iv, err := ParseInterval(ivText)
	if err != nil {
		return StatQuery{}, err
	}
	tr, err := ParseTimeRange(r.TimeRange, now, iv)
	if err != nil {
		return StatQuery{}, err
	}
	q := StatQuery{
		DeviceID:  strings.TrimSpace(r.DeviceID),
		Metric:    metric,
		Interval:  iv,
		Range:     tr,
		Interface: r.Interface,
		Color:     r.Color,
		RemoteIP:  r.RemoteIP,
	}
	return q, q.Validate()
}

// Validate checks the query before any I/O.
func (q StatQuery) Validate() error {
	if strings.TrimSpace(q.DeviceID) == "" {
		return apperr.Validationf("stat_query", "device id is required")
	}
	switch q.Metric {
	case MetricInterface, MetricTunnel:
	default:
		return apperr.Validationf("stat_query", "unsupported metric %q", q.Metric)
	}
	switch q.Interval {
	case Interval5Min, Interval1Hr, Interval1Day:
	default:
		return apperr.Validationf("stat_query", "unsupported interval %q", q.Interval)
	}
	if q.Range.Start.IsZero() || q.Range.End.IsZero() || !q.Range.Start.Before(q.Range.End) {
		return apperr.Validationf("stat_query", "invalid time range")
	}
	return nil
}

// Key covers every field of the query so distinct queries never collide.
func (q StatQuery) Key() string {
	return fmt.Sprintf("%s|%s|%s|%d|%d|%s|%s|%s",
		q.DeviceID, q.Metric, q.Interval,
		q.Range.Start.UnixMilli(), q.Range.End.UnixMilli(),
		q.Interface, q.Color, q.RemoteIP)
}

// Point is one sample of a series.
type Point struct {
	Timestamp time.Time          `json:"timestamp"`
	Labels    map[string]string  `json:"labels,omitempty"`
	Fields    map[string]float64 `json:"fields"`
}

// LabelKey identifies the label set of a point, e.g. one interface.
func (p Point) LabelKey() string {
	if len(p.Labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(p.Labels))
	for k := range p.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(p.Labels[k])
		b.WriteByte(';')
	}
	return b.String()
}

// StatSeries is a normalized statistics series.
type StatSeries struct {
	DeviceID  string    `json:"device_id"`
	Metric    Metric    `json:"metric"`
	Interval  Interval  `json:"interval"`
	Shape     string    `json:"shape"`
	Points    []Point   `json:"points"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Clone returns a deep copy.
func (s *StatSeries) Clone() *StatSeries {
	if s == nil {
		return nil
	}
	out := *s
	out.Points = make([]Point, len(s.Points))
	for i, p := range s.Points {
		cp := Point{Timestamp: p.Timestamp, Fields: make(map[string]float64, len(p.Fields))}
		for k, v := range p.Fields {
			cp.Fields[k] = v
		}
		if p.Labels != nil {
			cp.Labels = make(map[string]string, len(p.Labels))
			for k, v := range p.Labels {
				cp.Labels[k] = v
			}
		}
		out.Points[i] = cp
	}
	return &out
}

// Records flattens the series into one map per point for serialization.
func (s *StatSeries) Records() []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(s.Points))
	for _, p := range s.Points {
		rec := make(map[string]interface{}, len(p.Fields)+len(p.Labels)+1)
		rec["timestamp"] = p.Timestamp.UnixMilli()
		for k, v := range p.Labels {
			rec[k] = v
		}
		for k, v := range p.Fields {
			rec[k] = v
		}
		out = append(out, rec)
	}
	return out
}
