package possync

import "math"

// Key is one control point of a Curve.
type Key struct {
	T, V       float32
	InTangent  float32
	OutTangent float32
}

// Curve maps interpolation progress to a blend factor using cubic Hermite
// segments. Keys must be sorted by T. Outside the keys the curve is clamped.
type Curve []Key

// DefaultCurve is linear up to the expected arrival of the next state,
// overshoots while the state is late and settles back on the target.
var DefaultCurve = Curve{
	{T: 0, V: 0, InTangent: 1, OutTangent: 1},
	{T: 1, V: 1, InTangent: 1, OutTangent: 1},
	{T: 1.5, V: 1.5, InTangent: 0, OutTangent: 0},
	{T: 2, V: 1, InTangent: -1, OutTangent: 0},
}

func (c Curve) Evaluate(t float32) float32 {
	switch {
	case len(c) == 0:
		return t
	case t <= c[0].T:
		return c[0].V
	case t >= c[len(c)-1].T:
		return c[len(c)-1].V
	}
	i := 1
	for c[i].T < t {
		i++
	}
	k0, k1 := c[i-1], c[i]
	dt := k1.T - k0.T
	s := (t - k0.T) / dt
	s2 := s * s
	s3 := s2 * s
	h00 := 2*s3 - 3*s2 + 1
	h10 := s3 - 2*s2 + s
	h01 := -2*s3 + 3*s2
	h11 := s3 - s2
	return h00*k0.V + h10*dt*k0.OutTangent + h01*k1.V + h11*dt*k1.InTangent
}

// LerpAngle interpolates between two angles in degrees along the shorter
// arc. t is not clamped.
func LerpAngle(a, b, t float32) float32 {
	d := float32(math.Mod(float64(b-a), 360))
	if d < 0 {
		d += 360
	}
	if d > 180 {
		d -= 360
	}
	return a + d*t
}
