package stats

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/edgegate/internal/apperr"
	"github.com/user/edgegate/internal/model"
)

func TestNormalize_RoundTripKeepsRecognizedFields(t *testing.T) {
	s, err := Normalize(testQuery(), interfaceRows())
	require.NoError(t, err)
	assert.Equal(t, "interface-kbps", s.Shape)
	require.Len(t, s.Points, 3)

	b, err := json.Marshal(s.Records())
	require.NoError(t, err)
	var recs []map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &recs))

	for _, rec := range recs {
		for _, f := range []string{FieldRxKbps, FieldTxKbps, FieldRxPackets, FieldTxPackets, FieldRxErrors, FieldTxErrors, FieldRxDrops, FieldTxDrops} {
			assert.Contains(t, rec, f)
		}
		assert.Equal(t, "ge0/0", rec["interface"])
	}
	assert.Equal(t, 100.5, recs[0][FieldRxKbps])
	assert.Equal(t, float64(base.UnixMilli()), recs[0]["timestamp"])
}

func TestNormalize_Shapes(t *testing.T) {
	q := testQuery()
	ts := base.UnixMilli()

	s, err := Normalize(q, []map[string]interface{}{{"entry_time": ts, "rxOctets": "10", "txOctets": 20.0, "rxKbps": 1}})
	require.NoError(t, err)
	assert.Equal(t, "interface-camel", s.Shape)
	assert.Equal(t, map[string]float64{FieldRxOctets: 10, FieldTxOctets: 20, FieldRxKbps: 1}, s.Points[0].Fields)

	q.Metric = model.MetricTunnel
	s, err = Normalize(q, []map[string]interface{}{{
		"entry_time": ts, "loss_percentage": 0.5, "latency": 20, "jitter": 2, "vqoe_score": 9.5,
		"remote_system_ip": "10.0.0.2", "local_color": "mpls",
	}})
	require.NoError(t, err)
	assert.Equal(t, "tunnel-approute", s.Shape)
	assert.Equal(t, 0.5, s.Points[0].Fields[FieldLoss])
	assert.Equal(t, 9.5, s.Points[0].Fields[FieldVQoEScore])
	assert.Equal(t, "10.0.0.2", s.Points[0].Labels["remote_system_ip"])

	s, err = Normalize(q, []map[string]interface{}{{"entryTime": ts, "loss": 1, "latency": 3, "jitter": 4}})
	require.NoError(t, err)
	assert.Equal(t, "tunnel-aggregate", s.Shape)
	assert.Equal(t, 1.0, s.Points[0].Fields[FieldLoss])
}

func TestNormalize_DropsUnknownFields(t *testing.T) {
	rows := interfaceRows()
	rows[0]["weird_counter"] = 7
	s, err := Normalize(testQuery(), rows)
	require.NoError(t, err)
	assert.NotContains(t, s.Points[0].Fields, "weird_counter")
}

func TestNormalize_OrdersAndKeepsGaps(t *testing.T) {
	rows := interfaceRows()
	rows[0], rows[2] = rows[2], rows[0]
	rows = append(rows[:1], rows[2:]...)

	s, err := Normalize(testQuery(), rows)
	require.NoError(t, err)
	require.Len(t, s.Points, 2)
	assert.True(t, s.Points[0].Timestamp.Before(s.Points[1].Timestamp))
	assert.Equal(t, 10*time.Minute, s.Points[1].Timestamp.Sub(s.Points[0].Timestamp))
}

func TestNormalize_Errors(t *testing.T) {
	rows := interfaceRows()
	rows[1]["entry_time"] = rows[0]["entry_time"]
	_, err := Normalize(testQuery(), rows)
	assert.Equal(t, apperr.KindParse, apperr.KindOf(err), "duplicates are not silently merged")

	rows = interfaceRows()
	delete(rows[2], "entry_time")
	_, err = Normalize(testQuery(), rows)
	assert.Equal(t, apperr.KindParse, apperr.KindOf(err))

	s, err := Normalize(testQuery(), nil)
	require.NoError(t, err)
	assert.Empty(t, s.Points)
}

func TestNormalize_SameTimestampDifferentInterfaces(t *testing.T) {
	rows := interfaceRows()[:1]
	other := map[string]interface{}{}
	for k, v := range rows[0] {
		other[k] = v
	}
	other["interface"] = "ge0/1"
	rows = append(rows, other)

	s, err := Normalize(testQuery(), rows)
	require.NoError(t, err)
	assert.Len(t, s.Points, 2)
}
