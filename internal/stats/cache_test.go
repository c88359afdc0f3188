package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/user/edgegate/internal/model"
)

func TestCache_ExpiryAndSweep(t *testing.T) {
	clk := &clock{now: base}
	c := NewCache(clk.Now)
	s := &model.StatSeries{DeviceID: "10.0.0.1"}

	c.Put("", "a", s, time.Minute)
	c.Put("", "b", s, time.Hour)
	c.Put("", "c", s, 0)
	assert.Equal(t, 2, c.Len())

	_, ok := c.Get("", "a")
	assert.True(t, ok)

	clk.Advance(time.Minute)
	_, ok = c.Get("", "a")
	assert.False(t, ok, "entries are never served at or past their TTL")
	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())
}

func TestCache_TenantScoping(t *testing.T) {
	c := NewCache(nil)
	s := &model.StatSeries{DeviceID: "10.0.0.1"}

	c.SetTenant("t1")
	assert.True(t, c.Put("t1", "k", s, time.Minute))
	assert.False(t, c.Put("t2", "k", s, time.Minute), "only the current tenant stores")
	assert.Equal(t, 1, c.Len())

	_, ok := c.Get("t2", "k")
	assert.False(t, ok)

	assert.Equal(t, 1, c.SetTenant("t2"))
	_, ok = c.Get("t1", "k")
	assert.False(t, ok)
	assert.True(t, c.Put("t2", "k", s, time.Minute))
	_, ok = c.Get("t2", "k")
	assert.True(t, ok)
}
