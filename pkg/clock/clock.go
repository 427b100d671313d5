// Package clock implements the simulation's fixed-tick shift clock.
package clock

import "fmt"

// Speed controls how often the engine advances the clock.
type Speed int

const (
	Paused Speed = iota
	Normal
	Fast
)

// String returns the lower-case name of the speed.
func (s Speed) String() string {
	switch s {
	case Paused:
		return "paused"
	case Normal:
		return "normal"
	case Fast:
		return "fast"
	default:
		return "unknown"
	}
}

// ParseSpeed maps a name back to a Speed.
func ParseSpeed(name string) (Speed, bool) {
	switch name {
	case "paused", "pause":
		return Paused, true
	case "normal", "1x":
		return Normal, true
	case "fast", "2x":
		return Fast, true
	}
	return Normal, false
}

// Shift boundaries. The clock never shows hours before ShiftStart.
const (
	ShiftStart = 9
	ShiftEnd   = 18
)

var weekdays = [...]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday"}

// Clock is the simulation clock. Each Advance is one tick and one simulated second.
// Clock is not safe for concurrent use; the engine lock guards it.
type Clock struct {
	Tick   int64
	Hour   int
	Minute int
	Second int
	Day    int
	Speed  Speed
}

// New returns a clock at tick 0, 09:00:00 on day 1, running at normal speed.
func New() *Clock {
	c := &Clock{}
	c.Reset()
	return c
}

// Reset restores the initial state.
func (c *Clock) Reset() {
	*c = Clock{Hour: ShiftStart, Day: 1, Speed: Normal}
}

// Advance moves the clock forward by one tick.
func (c *Clock) Advance() {
	c.Tick++
	c.Second++
	if c.Second >= 60 {
		c.Second = 0
		c.Minute++
	}
	if c.Minute >= 60 {
		c.Minute = 0
		c.Hour++
	}
	if c.Hour >= 24 {
		c.Hour = ShiftStart
		c.Day++
	}
}

// IsWorkHours reports whether the clock is inside the shift.
func (c *Clock) IsWorkHours() bool {
	return c.Hour >= ShiftStart && c.Hour < ShiftEnd
}

// IsEndOfDay reports whether the shift has ended.
func (c *Clock) IsEndOfDay() bool {
	return c.Hour >= ShiftEnd
}

// Weekday returns the simulated weekday name.
func (c *Clock) Weekday() string {
	return weekdays[(c.Day-1)%len(weekdays)]
}

// String renders the wall clock as h:mm:ss AM/PM.
func (c *Clock) String() string {
	h := c.Hour % 12
	if h == 0 {
		h = 12
	}
	ampm := "AM"
	if c.Hour >= 12 {
		ampm = "PM"
	}
	return fmt.Sprintf("%d:%02d:%02d %s", h, c.Minute, c.Second, ampm)
}

// Snapshot is a copy of the clock suitable for serialization.
type Snapshot struct {
	Tick    int64  `json:"tick"`
	Hour    int    `json:"hour"`
	Minute  int    `json:"minute"`
	Second  int    `json:"second"`
	Day     int    `json:"day"`
	Speed   string `json:"speed"`
	Display string `json:"display"`
}

// Snapshot returns a serializable copy of the clock.
func (c *Clock) Snapshot() Snapshot {
	return Snapshot{
		Tick:    c.Tick,
		Hour:    c.Hour,
		Minute:  c.Minute,
		Second:  c.Second,
		Day:     c.Day,
		Speed:   c.Speed.String(),
		Display: c.String(),
	}
}
