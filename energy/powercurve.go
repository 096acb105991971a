package energy

import "sort"

// DefaultOrder is the number of table samples used per interpolation.
const DefaultOrder = 5

// PowerCurve maps horizontal speed (m/s) to electrical power draw (W).
// Speeds must be strictly increasing.
type PowerCurve struct {
	Speeds []float64
	Powers []float64
}

// DefaultPowerCurve returns the measured power/speed table of a mid-size
// quadcopter.
func DefaultPowerCurve() PowerCurve {
	return PowerCurve{
		Speeds: []float64{0.1, 1.8, 2.8, 5, 6, 8, 10, 12, 14, 16, 18, 20},
		Powers: []float64{220, 220, 220, 210, 206, 200, 198, 202, 214, 232, 258, 290},
	}
}

// At returns the interpolated power at the given speed.
func (c PowerCurve) At(speed float64, order int) float64 {
	return Interpolate(speed, c.Speeds, c.Powers, order)
}

// Interpolate evaluates the Lagrange polynomial through a window of order
// samples around x. Queries outside [xs[0], xs[n-1]] return the endpoint
// value and exact sample hits return the sample. The window is centred on
// the interval containing x and shifted inward near the table ends. An
// order of zero or less selects DefaultOrder; an order larger than the
// table uses every sample.
func Interpolate(x float64, xs, ys []float64, order int) float64 {
	n := len(xs)
	if n == 0 || len(ys) != n {
		return 0
	}
	if x <= xs[0] {
		return ys[0]
	}
	if x >= xs[n-1] {
		return ys[n-1]
	}

	i := sort.SearchFloat64s(xs, x)
	if xs[i] == x {
		return ys[i]
	}

	if order <= 0 {
		order = DefaultOrder
	}
	if order > n {
		order = n
	}

	start := i - order/2
	if start < 0 {
		start = 0
	}
	if start > n-order {
		start = n - order
	}

	var sum float64
	for j := start; j < start+order; j++ {
		w := 1.0
		for k := start; k < start+order; k++ {
			if k == j {
				continue
			}
			w *= (x - xs[k]) / (xs[j] - xs[k])
		}
		sum += w * ys[j]
	}
	return sum
}
