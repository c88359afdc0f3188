package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/edgegate/internal/apperr"
)

func TestParseInterval(t *testing.T) {
	cases := map[string]Interval{
		"5min":  Interval5Min,
		"1h":    Interval1Hr,
		"60min": Interval1Hr,
		"1HR":   Interval1Hr,
		"24h":   Interval1Day,
		"1day":  Interval1Day,
	}
	for in, want := range cases {
		got, err := ParseInterval(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseInterval("15min")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestParseTimeRange_AlignedToBucket(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 17, 42, 0, time.UTC)

	r, err := ParseTimeRange("last 3 hours", now, Interval5Min)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 15, 0, 0, time.UTC), r.End)
	assert.Equal(t, 3*time.Hour, r.End.Sub(r.Start))

	later := now.Add(90 * time.Second)
	r2, err := ParseTimeRange("last 3 hours", later, Interval5Min)
	require.NoError(t, err)
	assert.Equal(t, r, r2)

	d, err := ParseTimeRange("last 7 days", now, Interval1Day)
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, d.End.Sub(d.Start))

	def, err := ParseTimeRange("", now, Interval1Hr)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, def.End.Sub(def.Start))

	_, err = ParseTimeRange("yesterday", now, Interval1Hr)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestStatQueryValidateAndKey(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	q := StatQuery{
		DeviceID: "10.0.0.1",
		Metric:   MetricInterface,
		Interval: Interval1Hr,
		Range:    TimeRange{Start: now.Add(-time.Hour), End: now},
	}
	require.NoError(t, q.Validate())

	other := q
	other.Interface = "ge0/0"
	assert.NotEqual(t, q.Key(), other.Key())

	bad := q
	bad.Interval = "15min"
	assert.Error(t, bad.Validate())

	empty := q
	empty.DeviceID = " "
	assert.Error(t, empty.Validate())
}

func TestStatSeriesCloneIsDeep(t *testing.T) {
	s := &StatSeries{
		DeviceID: "d1",
		Points: []Point{{
			Timestamp: time.Unix(0, 0),
			Labels:    map[string]string{"interface": "ge0/0"},
			Fields:    map[string]float64{"rx_kbps": 1},
		}},
	}
	c := s.Clone()
	c.Points[0].Fields["rx_kbps"] = 99
	c.Points[0].Labels["interface"] = "x"
	assert.Equal(t, 1.0, s.Points[0].Fields["rx_kbps"])
	assert.Equal(t, "ge0/0", s.Points[0].Labels["interface"])
	assert.Equal(t, "interface=ge0/0;", s.Points[0].LabelKey())
}

func TestStatRequestQuery(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 7, 30, 0, time.UTC)

	q, err := StatRequest{DeviceID: " 10.0.0.1 ", TimeRange: "last 2 hours"}.Query(now)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", q.DeviceID)
	assert.Equal(t, MetricInterface, q.Metric)
	assert.Equal(t, Interval5Min, q.Interval)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 5, 0, 0, time.UTC), q.Range.End)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 5, 0, 0, time.UTC), q.Range.Start)

	q, err = StatRequest{DeviceID: "10.0.0.1", Metric: "Tunnel", Interval: "1h", Color: "mpls"}.Query(now)
	require.NoError(t, err)
	assert.Equal(t, MetricTunnel, q.Metric)
	assert.Equal(t, Interval1Hr, q.Interval)
	assert.Equal(t, "mpls", q.Color)

	for _, r := range []StatRequest{
		{Metric: "interface"},
		{DeviceID: "10.0.0.1", Metric: "cpu"},
		{DeviceID: "10.0.0.1", Interval: "15min"},
		{DeviceID: "10.0.0.1", TimeRange: "yesterday"},
	} {
		_, err := r.Query(now)
		assert.Equal(t, apperr.KindValidation, apperr.KindOf(err), "%+v", r)
	}
}
