// Package energy models the battery of a patrol UAV: per-phase power draw
// derived from a measured power curve, integration of that draw over
// simulated time, low-energy prediction and battery swaps.
package energy

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidParams is returned by New for non-physical parameters.
var ErrInvalidParams = errors.New("invalid energy parameters")

// Phase is a flight phase with its own power draw.
type Phase int

const (
	Idle Phase = iota
	Ascend
	Descend
	Hover
	Move
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Ascend:
		return "ascend"
	case Descend:
		return "descend"
	case Hover:
		return "hover"
	case Move:
		return "move"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Params are the static battery and airframe parameters.
type Params struct {
	Voltage  float64 // V
	Capacity float64 // A·s

	AscendPower  float64 // W while climbing
	DescendPower float64 // W while descending
	HoverPower   float64 // W while station keeping

	Curve PowerCurve
	Order int
}

// DefaultParams returns a 5 Ah 3S pack with the default power curve.
func DefaultParams() Params {
	return Params{
		Voltage:      11.1,
		Capacity:     18000,
		AscendPower:  315,
		DescendPower: 180,
		HoverPower:   220,
		Curve:        DefaultPowerCurve(),
		Order:        DefaultOrder,
	}
}

func (p Params) validate() error {
	switch {
	case p.Voltage <= 0:
		return fmt.Errorf("%w: voltage %v", ErrInvalidParams, p.Voltage)
	case p.Capacity <= 0:
		return fmt.Errorf("%w: capacity %v", ErrInvalidParams, p.Capacity)
	case p.AscendPower < 0 || p.DescendPower < 0 || p.HoverPower < 0:
		return fmt.Errorf("%w: negative phase power", ErrInvalidParams)
	case len(p.Curve.Speeds) == 0 || len(p.Curve.Speeds) != len(p.Curve.Powers):
		return fmt.Errorf("%w: power curve has %d speeds and %d powers",
			ErrInvalidParams, len(p.Curve.Speeds), len(p.Curve.Powers))
	}
	for i := 1; i < len(p.Curve.Speeds); i++ {
		if p.Curve.Speeds[i] <= p.Curve.Speeds[i-1] {
			return fmt.Errorf("%w: power curve speeds not increasing at %d", ErrInvalidParams, i)
		}
	}
	return nil
}

// Model tracks the remaining energy of one battery. Times are simulated
// seconds. The low-energy threshold and the depletion event are single
// shot: once reported they stay disarmed until re-armed, and a swapped
// battery starts disarmed.
type Model struct {
	p       Params
	initial float64

	remaining float64
	updatedAt float64
	phase     Phase
	draw      float64 // W

	lowRatio      float64
	lowArmed      bool
	depletedArmed bool
}

// New returns a fully charged battery.
func New(p Params) (*Model, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	if p.Order <= 0 {
		p.Order = DefaultOrder
	}
	initial := p.Capacity * p.Voltage
	return &Model{p: p, initial: initial, remaining: initial}, nil
}

// Params returns the static parameters.
func (m *Model) Params() Params { return m.p }

// Initial returns the energy of a full battery in joules.
func (m *Model) Initial() float64 { return m.initial }

// Phase returns the phase set by the last SetPhase call.
func (m *Model) Phase() Phase { return m.phase }

// Draw returns the current power draw in watts.
func (m *Model) Draw() float64 { return m.draw }

// Current returns the discharge in amperes, the draw divided by the
// battery voltage.
func (m *Model) Current() float64 { return m.draw / m.p.Voltage }

// PhasePower returns the power drawn in a phase. Move uses the power curve
// at the given speed.
func (m *Model) PhasePower(phase Phase, speed float64) float64 {
	switch phase {
	case Ascend:
		return m.p.AscendPower
	case Descend:
		return m.p.DescendPower
	case Hover:
		return m.p.HoverPower
	case Move:
		return m.p.Curve.At(speed, m.p.Order)
	default:
		return 0
	}
}

// Cost returns the energy cost of a phase. Ascend and Descend return the
// joules needed to cover altitude at the given vertical speed, Hover
// returns watts, and Move returns joules per metre at the given speed.
func (m *Model) Cost(phase Phase, altitude, speed float64) float64 {
	switch phase {
	case Ascend, Descend:
		if speed <= 0 || altitude <= 0 {
			return 0
		}
		return m.PhasePower(phase, speed) * altitude / speed
	case Hover:
		return m.p.HoverPower
	case Move:
		if speed <= 0 {
			return 0
		}
		return m.PhasePower(Move, speed) / speed
	default:
		return 0
	}
}

// settle integrates the current draw up to now.
func (m *Model) settle(now float64) {
	if now <= m.updatedAt {
		return
	}
	m.remaining = math.Max(0, m.remaining-m.draw*(now-m.updatedAt))
	m.updatedAt = now
}

// SetPhase changes the draw at time now. The previous draw is integrated up
// to now first.
func (m *Model) SetPhase(now float64, phase Phase, speed float64) {
	m.settle(now)
	m.phase = phase
	m.draw = m.PhasePower(phase, speed)
}

// Remaining returns the energy left at time now, never below zero.
func (m *Model) Remaining(now float64) float64 {
	if now <= m.updatedAt {
		return m.remaining
	}
	return math.Max(0, m.remaining-m.draw*(now-m.updatedAt))
}

// Ratio returns Remaining(now) / Initial().
func (m *Model) Ratio(now float64) float64 {
	return m.Remaining(now) / m.initial
}

// Depleted reports whether the battery is empty at time now.
func (m *Model) Depleted(now float64) bool {
	return m.Remaining(now) <= 0
}

// IsLow reports whether the energy left at time now, after reserving a
// descent from flightAltitude and one observation hover, no longer covers
// remainingTripDistance at cruise speed.
func (m *Model) IsLow(remainingTripDistance, flightAltitude, cruiseSpeed, descendSpeed, observeDuration, now float64) bool {
	return m.IsLowWithMargin(remainingTripDistance, flightAltitude, cruiseSpeed, descendSpeed, observeDuration, 0, now)
}

// IsLowWithMargin is IsLow with margin extra joules held back on top of
// the descent and hover reserve.
func (m *Model) IsLowWithMargin(remainingTripDistance, flightAltitude, cruiseSpeed, descendSpeed, observeDuration, margin, now float64) bool {
	reserve := m.Cost(Descend, flightAltitude, descendSpeed) + m.Cost(Hover, 0, 0)*observeDuration + margin
	need := m.Cost(Move, 0, cruiseSpeed) * remainingTripDistance
	return need > m.Remaining(now)-reserve
}

// SetLowBatteryThreshold arms the low-energy threshold at the fraction of a
// full battery needed to climb to altitude, cover maxRange at cruise speed
// and descend again. The ratio is clamped to [0, 1].
func (m *Model) SetLowBatteryThreshold(maxRange, altitude, ascendSpeed, descendSpeed, cruiseSpeed float64) float64 {
	need := m.Cost(Ascend, altitude, ascendSpeed) +
		m.Cost(Descend, altitude, descendSpeed) +
		m.Cost(Move, 0, cruiseSpeed)*maxRange
	m.lowRatio = math.Min(1, math.Max(0, need/m.initial))
	m.lowArmed = true
	return m.lowRatio
}

// LowRatio returns the configured threshold ratio.
func (m *Model) LowRatio() float64 { return m.lowRatio }

// LowArmed reports whether the low threshold has not yet been reported.
func (m *Model) LowArmed() bool { return m.lowArmed }

// DisarmLow marks the low threshold as reported.
func (m *Model) DisarmLow() { m.lowArmed = false }

// ArmDepletion enables the depletion event for the current charge.
func (m *Model) ArmDepletion() { m.depletedArmed = true }

// DepletionArmed reports whether depletion has not yet been reported.
func (m *Model) DepletionArmed() bool { return m.depletedArmed }

// DisarmDepletion marks depletion as reported.
func (m *Model) DisarmDepletion() { m.depletedArmed = false }

// TimeUntilLow returns the seconds from now until the remaining energy
// reaches the low threshold with the current draw. It returns +Inf when the
// threshold is disarmed or nothing is drawn, and 0 if already below.
func (m *Model) TimeUntilLow(now float64) float64 {
	if !m.lowArmed {
		return math.Inf(1)
	}
	rem := m.Remaining(now)
	threshold := m.lowRatio * m.initial
	if rem <= threshold {
		return 0
	}
	if m.draw <= 0 {
		return math.Inf(1)
	}
	return (rem - threshold) / m.draw
}

// TimeUntilEmpty returns the seconds from now until the battery is empty
// with the current draw, or +Inf when depletion is disarmed or nothing is
// drawn.
func (m *Model) TimeUntilEmpty(now float64) float64 {
	if !m.depletedArmed {
		return math.Inf(1)
	}
	rem := m.Remaining(now)
	if rem <= 0 {
		return 0
	}
	if m.draw <= 0 {
		return math.Inf(1)
	}
	return rem / m.draw
}

// FlyTime returns how long a full battery lasts at hover draw.
func (m *Model) FlyTime() float64 {
	if m.p.HoverPower <= 0 {
		return math.Inf(1)
	}
	return m.initial / m.p.HoverPower
}

// CloneForSwap returns a full battery with the same parameters, idle at
// time now. Threshold and depletion start disarmed on the clone.
func (m *Model) CloneForSwap(now float64) *Model {
	return &Model{
		p:         m.p,
		initial:   m.initial,
		remaining: m.initial,
		updatedAt: now,
		lowRatio:  m.lowRatio,
	}
}
