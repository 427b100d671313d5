package clock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewClock(t *testing.T) {
	c := New()
	assert.Equal(t, int64(0), c.Tick)
	assert.Equal(t, 9, c.Hour)
	assert.Equal(t, 1, c.Day)
	assert.Equal(t, Normal, c.Speed)
	assert.Equal(t, "9:00:00 AM", c.String())
	assert.True(t, c.IsWorkHours())
}

func TestAdvanceCarries(t *testing.T) {
	c := New()
	for i := 0; i < 60; i++ {
		c.Advance()
	}
	assert.Equal(t, int64(60), c.Tick)
	assert.Equal(t, 1, c.Minute)
	assert.Equal(t, 0, c.Second)

	c.Minute, c.Second = 59, 59
	c.Advance()
	assert.Equal(t, 10, c.Hour)
	assert.Equal(t, 0, c.Minute)
}

func TestAdvanceRollsDay(t *testing.T) {
	c := New()
	c.Hour, c.Minute, c.Second = 23, 59, 59
	c.Advance()
	assert.Equal(t, 9, c.Hour)
	assert.Equal(t, 2, c.Day)
	assert.Equal(t, "Tuesday", c.Weekday())
}

func TestTickMonotonic(t *testing.T) {
	c := New()
	prev := c.Tick
	for i := 0; i < 5000; i++ {
		c.Advance()
		assert.Equal(t, prev+1, c.Tick)
		prev = c.Tick
	}
}

func TestWorkHours(t *testing.T) {
	tests := []struct {
		hour int
		work bool
		eod  bool
	}{
		{9, true, false},
		{12, true, false},
		{17, true, false},
		{18, false, true},
		{23, false, true},
	}
	c := New()
	for _, tt := range tests {
		c.Hour = tt.hour
		assert.Equal(t, tt.work, c.IsWorkHours(), "hour %d", tt.hour)
		assert.Equal(t, tt.eod, c.IsEndOfDay(), "hour %d", tt.hour)
	}
}

func TestStringPM(t *testing.T) {
	c := New()
	c.Hour, c.Minute, c.Second = 13, 5, 9
	assert.Equal(t, "1:05:09 PM", c.String())
	c.Hour = 12
	assert.Equal(t, "12:05:09 PM", c.String())
}

func TestParseSpeed(t *testing.T) {
	s, ok := ParseSpeed("fast")
	assert.True(t, ok)
	assert.Equal(t, Fast, s)
	_, ok = ParseSpeed("warp")
	assert.False(t, ok)
}
