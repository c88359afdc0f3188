package stats

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/user/edgegate/internal/apperr"
	"github.com/user/edgegate/internal/model"
	"github.com/user/edgegate/internal/util"
)

// Canonical field names of a normalized series.
const (
	FieldRxOctets  = "rx_octets"
	FieldTxOctets  = "tx_octets"
	FieldRxPackets = "rx_packets"
	FieldTxPackets = "tx_packets"
	FieldRxKbps    = "rx_kbps"
	FieldTxKbps    = "tx_kbps"
	FieldRxErrors  = "rx_errors"
	FieldTxErrors  = "tx_errors"
	FieldRxDrops   = "rx_drops"
	FieldTxDrops   = "tx_drops"
	FieldLoss      = "loss_percentage"
	FieldLatency   = "latency"
	FieldJitter    = "jitter"
	FieldVQoEScore = "vqoe_score"
)

// Shape maps one controller response field set onto canonical fields.
type Shape struct {
	Name   string
	Metric model.Metric
	// Requires must all be present in a record for the shape to match.
	Requires []string
	Fields   map[string]string
}

// Shapes is tried in order; the first match wins.
var Shapes = []Shape{
	{
		Name:     "interface-octets",
		Metric:   model.MetricInterface,
		Requires: []string{"rx_octets", "tx_octets"},
		Fields: map[string]string{
			"rx_octets": FieldRxOctets, "tx_octets": FieldTxOctets,
			"rx_pkts": FieldRxPackets, "tx_pkts": FieldTxPackets,
			"rx_packets": FieldRxPackets, "tx_packets": FieldTxPackets,
			"rx_kbps": FieldRxKbps, "tx_kbps": FieldTxKbps,
			"rx_errors": FieldRxErrors, "tx_errors": FieldTxErrors,
			"rx_drops": FieldRxDrops, "tx_drops": FieldTxDrops,
		},
	},
	{
		Name:     "interface-kbps",
		Metric:   model.MetricInterface,
		Requires: []string{"rx_kbps", "tx_kbps"},
		Fields: map[string]string{
			"rx_kbps": FieldRxKbps, "tx_kbps": FieldTxKbps,
			"rx_pkts": FieldRxPackets, "tx_pkts": FieldTxPackets,
			"rx_errors": FieldRxErrors, "tx_errors": FieldTxErrors,
			"rx_drops": FieldRxDrops, "tx_drops": FieldTxDrops,
		},
	},
	{
		Name:     "interface-camel",
		Metric:   model.MetricInterface,
		Requires: []string{"rxOctets", "txOctets"},
		Fields: map[string]string{
			"rxOctets": FieldRxOctets, "txOctets": FieldTxOctets,
			"rxPackets": FieldRxPackets, "txPackets": FieldTxPackets,
			"rxKbps": FieldRxKbps, "txKbps": FieldTxKbps,
			"rxErrors": FieldRxErrors, "txErrors": FieldTxErrors,
			"rxDrops": FieldRxDrops, "txDrops": FieldTxDrops,
		},
	},
	{
		Name:     "tunnel-approute",
		Metric:   model.MetricTunnel,
		Requires: []string{"loss_percentage", "latency", "jitter"},
		Fields: map[string]string{
			"loss_percentage": FieldLoss, "latency": FieldLatency,
			"jitter": FieldJitter, "vqoe_score": FieldVQoEScore,
			"rx_octets": FieldRxOctets, "tx_octets": FieldTxOctets,
			"rx_pkts": FieldRxPackets, "tx_pkts": FieldTxPackets,
		},
	},
	{
		Name:     "tunnel-aggregate",
		Metric:   model.MetricTunnel,
		Requires: []string{"loss", "latency", "jitter"},
		Fields: map[string]string{
			"loss": FieldLoss, "latency": FieldLatency,
			"jitter": FieldJitter, "vqoeScore": FieldVQoEScore,
		},
	},
}

// labelFields become point labels rather than values.
var labelFields = map[string]bool{
	"interface":        true,
	"color":            true,
	"local_color":      true,
	"remote_color":     true,
	"local_system_ip":  true,
	"remote_system_ip": true,
	"name":             true,
	"proto":            true,
	"vpn_id":           true,
	"af_type":          true,
}

// metaFields are controller bookkeeping, dropped without logging.
var metaFields = map[string]bool{
	"entry_time":        true,
	"entryTime":         true,
	"timestamp":         true,
	"count":             true,
	"id":                true,
	"tenant":            true,
	"statcycletime":     true,
	"vdevice_name":      true,
	"vdevice_dataKey":   true,
	"host_name":         true,
	"vmanage_system_ip": true,
	"device_model":      true,
}

func matchShape(metric model.Metric, rec map[string]interface{}) (Shape, bool) {
	for _, s := range Shapes {
		if s.Metric != metric {
			continue
		}
		ok := true
		for _, f := range s.Requires {
			if _, present := rec[f]; !present {
				ok = false
				break
			}
		}
		if ok {
			return s, true
		}
	}
	return Shape{}, false
}

// Normalize converts controller records into a series for q. A payload whose
// records match no known shape, lack a timestamp, or repeat a timestamp for
// the same label set is a parse error. Unknown fields are dropped and logged.
func Normalize(q model.StatQuery, rows []map[string]interface{}) (*model.StatSeries, error) {
	const op = "stats.normalize"

	series := &model.StatSeries{
		DeviceID: q.DeviceID,
		Metric:   q.Metric,
		Interval: q.Interval,
		Points:   make([]model.Point, 0, len(rows)),
	}
	if len(rows) == 0 {
		series.Shape = "empty"
		return series, nil
	}

	shape, ok := matchShape(q.Metric, rows[0])
	if !ok {
		return nil, apperr.New(apperr.KindParse, op, "unrecognized %s payload with fields [%s]", q.Metric, strings.Join(sortedKeys(rows[0]), ", "))
	}
	series.Shape = shape.Name

	unknown := make(map[string]bool)
	for i, rec := range rows {
		ts, err := timestampOf(rec)
		if err != nil {
			return nil, apperr.New(apperr.KindParse, op, "record %d: %v", i, err)
		}
		p := model.Point{Timestamp: ts, Fields: make(map[string]float64)}
		for k, v := range rec {
			switch {
			case metaFields[k]:
			case labelFields[k]:
				if p.Labels == nil {
					p.Labels = make(map[string]string)
				}
				p.Labels[k] = fmt.Sprint(v)
			default:
				canonical, known := shape.Fields[k]
				if !known {
					unknown[k] = true
					continue
				}
				f, ok := toFloat(v)
				if !ok {
					util.WithFields(util.Fields{"field": k, "value": fmt.Sprint(v), "record": i}).Warn("skipping non-numeric statistics value")
					continue
				}
				p.Fields[canonical] = f
			}
		}
		series.Points = append(series.Points, p)
	}

	if len(unknown) > 0 {
		names := make([]string, 0, len(unknown))
		for k := range unknown {
			names = append(names, k)
		}
		sort.Strings(names)
		util.WithFields(util.Fields{
			"shape":  shape.Name,
			"device": q.DeviceID,
			"fields": strings.Join(names, ","),
		}).Warn("dropped unrecognized statistics fields")
	}

	if err := order(series); err != nil {
		return nil, apperr.New(apperr.KindParse, op, "%v", err)
	}
	return series, nil
}

// order sorts points by timestamp and rejects repeated timestamps within a
// label set.
func order(s *model.StatSeries) error {
	sorted := sort.SliceIsSorted(s.Points, func(i, j int) bool {
		return s.Points[i].Timestamp.Before(s.Points[j].Timestamp)
	})
	if !sorted {
		util.WithFields(util.Fields{"device": s.DeviceID, "points": len(s.Points)}).Info("controller returned unordered series, sorting by timestamp")
		sort.SliceStable(s.Points, func(i, j int) bool {
			return s.Points[i].Timestamp.Before(s.Points[j].Timestamp)
		})
	}

	last := make(map[string]time.Time)
	for _, p := range s.Points {
		k := p.LabelKey()
		if prev, ok := last[k]; ok && !p.Timestamp.After(prev) {
			return fmt.Errorf("duplicate timestamp %s for series %q", p.Timestamp.Format(time.RFC3339), k)
		}
		last[k] = p.Timestamp
	}
	return nil
}

func timestampOf(rec map[string]interface{}) (time.Time, error) {
	for _, k := range []string{"entry_time", "entryTime", "timestamp"} {
		v, ok := rec[k]
		if !ok || v == nil {
			continue
		}
		if f, ok := toFloat(v); ok {
			return time.UnixMilli(int64(f)).UTC(), nil
		}
		if s, ok := v.(string); ok {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unparseable timestamp %v", v)
	}
	return time.Time{}, fmt.Errorf("missing entry_time")
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
