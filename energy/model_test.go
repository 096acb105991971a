package energy

import (
	"errors"
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

func TestInterpolateSamplesAndClamping(t *testing.T) {
	c := DefaultPowerCurve()
	if got := Interpolate(5, c.Speeds, c.Powers, 5); got != 210 {
		t.Fatalf("Interpolate(5) = %v, want 210", got)
	}
	if got := Interpolate(0.01, c.Speeds, c.Powers, 5); got != 220 {
		t.Fatalf("Interpolate below table = %v, want 220", got)
	}
	if got := Interpolate(25, c.Speeds, c.Powers, 5); got != 290 {
		t.Fatalf("Interpolate above table = %v, want 290", got)
	}
	for i, s := range c.Speeds {
		if got := c.At(s, 0); got != c.Powers[i] {
			t.Fatalf("At(%v) = %v, want %v", s, got, c.Powers[i])
		}
	}
	if got := Interpolate(1, nil, nil, 5); got != 0 {
		t.Fatalf("Interpolate on empty table = %v, want 0", got)
	}
}

func TestInterpolateIsExactForLowDegreePolynomials(t *testing.T) {
	// A cubic through uneven samples is reproduced exactly by any window of
	// four or more points, including windows shifted at the table ends.
	f := func(x float64) float64 { return 2*x*x*x - 3*x*x + x + 7 }
	xs := []float64{0, 0.5, 1.5, 2, 3.5, 4, 6, 7.5}
	ys := make([]float64, len(xs))
	for i, x := range xs {
		ys[i] = f(x)
	}
	for _, x := range []float64{0.2, 1, 2.7, 5, 7.2} {
		for _, order := range []int{4, 5, 8, 20} {
			got := Interpolate(x, xs, ys, order)
			if !almostEqual(got, f(x)) {
				t.Fatalf("Interpolate(%v, order %d) = %v, want %v", x, order, got, f(x))
			}
		}
	}
}

func TestInterpolateWindowNearTableEnds(t *testing.T) {
	// An alternating table makes every window give a different answer.
	// Expected values are the Lagrange polynomials through the window that
	// starts at i-order/2, clamped to [0, n-order].
	xs := []float64{0, 1, 2, 3, 4, 5, 6, 7}
	ys := []float64{0, 1, 0, 1, 0, 1, 0, 1}
	tests := []struct {
		x     float64
		order int
		want  float64
	}{
		{0.5, 4, 1},         // xs[0:4]
		{3.5, 4, 0.5},       // xs[2:6]
		{6.5, 4, 0},         // xs[4:8]
		{1.5, 5, 5.0 / 16},  // xs[0:5]
		{6.5, 5, -5.0 / 16}, // xs[3:8]
	}
	for _, tt := range tests {
		if got := Interpolate(tt.x, xs, ys, tt.order); !almostEqual(got, tt.want) {
			t.Fatalf("Interpolate(%v, order %d) = %v, want %v", tt.x, tt.order, got, tt.want)
		}
	}
}

func TestInterpolateLinearOrder(t *testing.T) {
	xs := []float64{0, 10, 20}
	ys := []float64{0, 100, 0}
	if got := Interpolate(5, xs, ys, 2); got != 50 {
		t.Fatalf("order 2 Interpolate(5) = %v, want 50", got)
	}
	if got := Interpolate(15, xs, ys, 2); got != 50 {
		t.Fatalf("order 2 Interpolate(15) = %v, want 50", got)
	}
}

func TestNewValidatesParams(t *testing.T) {
	p := DefaultParams()
	p.Voltage = 0
	if _, err := New(p); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams for zero voltage, got %v", err)
	}
	p = DefaultParams()
	p.Curve.Speeds = []float64{1, 1}
	p.Curve.Powers = []float64{1, 1}
	if _, err := New(p); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams for flat curve, got %v", err)
	}
}

func TestPhaseCosts(t *testing.T) {
	m, err := New(DefaultParams())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := m.Initial(); !almostEqual(got, 18000*11.1) {
		t.Fatalf("Initial = %v", got)
	}
	if got := m.Cost(Ascend, 30, 3); got != 315*10 {
		t.Fatalf("ascend cost = %v, want 3150", got)
	}
	if got := m.Cost(Descend, 30, 2); got != 180*15 {
		t.Fatalf("descend cost = %v, want 2700", got)
	}
	if got := m.Cost(Hover, 100, 0); got != 220 {
		t.Fatalf("hover cost = %v, want 220", got)
	}
	if got := m.Cost(Move, 0, 10); got != 19.8 {
		t.Fatalf("move cost = %v, want 19.8", got)
	}
	if got := m.Cost(Move, 0, 0); got != 0 {
		t.Fatalf("move cost at zero speed = %v, want 0", got)
	}
}

func TestRemainingIntegratesDrawAndClamps(t *testing.T) {
	p := DefaultParams()
	p.Capacity = 100
	m, _ := New(p)

	m.SetPhase(0, Hover, 0)
	before := m.Remaining(0)
	after := m.Remaining(2)
	if !almostEqual(after, before-220*2) {
		t.Fatalf("Remaining(2) = %v, want %v", after, before-440)
	}

	// Switching phase settles the elapsed hover draw.
	m.SetPhase(2, Idle, 0)
	if got := m.Remaining(100); !almostEqual(got, after) {
		t.Fatalf("idle drained energy: %v -> %v", after, got)
	}

	m.SetPhase(100, Ascend, 0)
	if got := m.Remaining(1e6); got != 0 {
		t.Fatalf("Remaining = %v, want clamp at 0", got)
	}
	if !m.Depleted(1e6) {
		t.Fatalf("expected depleted battery")
	}
}

func TestIsLow(t *testing.T) {
	p := DefaultParams()
	p.Capacity = 1000 // 11100 J
	m, _ := New(p)

	// Reserve: descend 30 m at 3 m/s = 1800 J, hover 2 s = 440 J.
	// Move at 10 m/s costs 19.8 J/m, so 8860 J covers ~447 m.
	if m.IsLow(400, 30, 10, 3, 2, 0) {
		t.Fatalf("400 m trip reported low")
	}
	if !m.IsLow(500, 30, 10, 3, 2, 0) {
		t.Fatalf("500 m trip not reported low")
	}
	// 990 J of margin leaves 7870 J, ~397 m.
	if !m.IsLowWithMargin(400, 30, 10, 3, 2, 990, 0) {
		t.Fatalf("400 m trip with margin not reported low")
	}
	if m.IsLowWithMargin(390, 30, 10, 3, 2, 990, 0) != m.IsLow(390+990/19.8, 30, 10, 3, 2, 0) {
		t.Fatalf("margin does not act as extra trip energy")
	}
}

func TestCurrentFollowsPhase(t *testing.T) {
	m, _ := New(DefaultParams())
	if m.Current() != 0 {
		t.Fatalf("idle current = %v, want 0", m.Current())
	}
	m.SetPhase(0, Hover, 0)
	if want := m.Params().HoverPower / m.Params().Voltage; !almostEqual(m.Current(), want) {
		t.Fatalf("hover current = %v, want %v", m.Current(), want)
	}
}

func TestThresholdTimingAndSwap(t *testing.T) {
	p := DefaultParams()
	p.Capacity = 1000
	m, _ := New(p)

	if !math.IsInf(m.TimeUntilLow(0), 1) {
		t.Fatalf("disarmed threshold should never fire")
	}
	ratio := m.SetLowBatteryThreshold(100, 30, 3, 3, 10)
	want := (315*10 + 180*10 + 19.8*100) / m.Initial()
	if !almostEqual(ratio, want) {
		t.Fatalf("threshold ratio = %v, want %v", ratio, want)
	}

	m.SetPhase(0, Hover, 0)
	m.ArmDepletion()
	low := m.TimeUntilLow(0)
	wantLow := (m.Initial() - ratio*m.Initial()) / 220
	if !almostEqual(low, wantLow) {
		t.Fatalf("TimeUntilLow = %v, want %v", low, wantLow)
	}
	if got := m.TimeUntilEmpty(0); !almostEqual(got, m.Initial()/220) {
		t.Fatalf("TimeUntilEmpty = %v", got)
	}

	m.DisarmLow()
	if !math.IsInf(m.TimeUntilLow(0), 1) {
		t.Fatalf("threshold still armed after DisarmLow")
	}

	clone := m.CloneForSwap(30)
	if clone.Remaining(30) != clone.Initial() {
		t.Fatalf("clone remaining = %v, want %v", clone.Remaining(30), clone.Initial())
	}
	if clone.LowArmed() || clone.DepletionArmed() {
		t.Fatalf("clone must start disarmed")
	}
	if clone.Draw() != 0 {
		t.Fatalf("clone draw = %v, want 0", clone.Draw())
	}
	if clone.Params().Voltage != p.Voltage {
		t.Fatalf("clone lost parameters")
	}

	if r := m.SetLowBatteryThreshold(1e9, 30, 3, 3, 10); r != 1 {
		t.Fatalf("threshold ratio not clamped: %v", r)
	}
}
