package vmanage

import (
	"context"
	"net/http"

	"github.com/user/edgegate/internal/model"
)

// StatsAPI issues statistics aggregation queries against the controller.
type StatsAPI struct {
	m *Manager
}

// NewStatsAPI wraps m.
func NewStatsAPI(m *Manager) *StatsAPI {
	return &StatsAPI{m: m}
}

type rule struct {
	Field    string        `json:"field"`
	Type     string        `json:"type"`
	Operator string        `json:"operator"`
	Value    []interface{} `json:"value"`
}

type histogram struct {
	Property string `json:"property"`
	Type     string `json:"type"`
	Interval int    `json:"interval"`
	Order    string `json:"order"`
}

type metricAgg struct {
	Property string `json:"property"`
	Type     string `json:"type"`
}

type fieldAgg struct {
	Property string `json:"property"`
	Sequence int    `json:"sequence"`
	Size     int    `json:"size,omitempty"`
}

type statsQuery struct {
	Query struct {
		Condition string `json:"condition"`
		Rules     []rule `json:"rules"`
	} `json:"query"`
	Aggregation struct {
		Field     []fieldAgg  `json:"field"`
		Histogram histogram   `json:"histogram"`
		Metrics   []metricAgg `json:"metrics"`
	} `json:"aggregation"`
}

var interfaceMetrics = []string{"rx_kbps", "tx_kbps", "rx_pkts", "tx_pkts", "rx_octets", "tx_octets", "rx_errors", "tx_errors", "rx_drops", "tx_drops"}

var tunnelMetrics = []string{"loss_percentage", "latency", "jitter", "vqoe_score"}

// Path returns the controller endpoint for the metric family.
func (a *StatsAPI) Path(metric model.Metric) string {
	if metric == model.MetricTunnel {
		return "/statistics/approute/fec/aggregation"
	}
	return "/statistics/interface/aggregation"
}

// Body builds the query DSL for q, asking for an ascending entry_time
// histogram in the query's interval.
func (a *StatsAPI) Body(q model.StatQuery) interface{} {
	var body statsQuery
	body.Query.Condition = "AND"
	body.Query.Rules = []rule{{
		Field:    "entry_time",
		Type:     "date",
		Operator: "between",
		Value:    []interface{}{q.Range.Start.UnixMilli(), q.Range.End.UnixMilli()},
	}}

	body.Aggregation.Histogram = histogram{Property: "entry_time", Order: "asc"}
	switch q.Interval {
	case model.Interval5Min:
		body.Aggregation.Histogram.Type = "minute"
		body.Aggregation.Histogram.Interval = 5
	default:
		body.Aggregation.Histogram.Type = "hour"
		body.Aggregation.Histogram.Interval = q.Interval.HistogramHours()
	}

	names := interfaceMetrics
	if q.Metric == model.MetricTunnel {
		names = tunnelMetrics
		body.Query.Rules = append(body.Query.Rules, stringRule("local_system_ip", q.DeviceID))
		if q.RemoteIP != "" {
			body.Query.Rules = append(body.Query.Rules, stringRule("remote_system_ip", q.RemoteIP))
		}
		if q.Color != "" {
			body.Query.Rules = append(body.Query.Rules, stringRule("local_color", q.Color))
		}
		body.Aggregation.Field = []fieldAgg{{Property: "name", Sequence: 1, Size: 6000}}
	} else {
		body.Query.Rules = append(body.Query.Rules, stringRule("vdevice_name", q.DeviceID))
		if q.Interface != "" {
			body.Query.Rules = append(body.Query.Rules, stringRule("interface", q.Interface))
		}
		body.Aggregation.Field = []fieldAgg{{Property: "interface", Sequence: 1}}
	}
	for _, n := range names {
		body.Aggregation.Metrics = append(body.Aggregation.Metrics, metricAgg{Property: n, Type: "avg"})
	}
	return body
}

func stringRule(field, value string) rule {
	return rule{Field: field, Type: "string", Operator: "in", Value: []interface{}{value}}
}

// Query runs q with the credentials of h and returns the raw record list.
func (a *StatsAPI) Query(ctx context.Context, h *Handle, q model.StatQuery) ([]map[string]interface{}, error) {
	resp, err := a.m.Do(ctx, h, Request{
		Method: http.MethodPost,
		Path:   a.Path(q.Metric),
		Body:   a.Body(q),
	})
	if err != nil {
		return nil, err
	}
	return resp.Rows()
}
