// Package vecmath holds the vector and matrix primitives shared by every
// translation-family trainer. All functions are pure unless their name says
// InPlace; dimension mismatches are caller errors.
package vecmath

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// Epsilon is the tolerance below which a dot product is treated as zero
const Epsilon = 1e-12

// Metric selects the dissimilarity used by the translation score
type Metric int

const (
	L1 Metric = 1 // Manhattan: sum |h + r - t|
	L2 Metric = 2 // squared Euclidean: sum (h + r - t)^2
)

// String returns a human readable metric name
func (m Metric) String() string {
	if m == L1 {
		return "L1 (Manhattan)"
	}
	return "L2 (Euclidean)"
}

// Valid reports whether m is L1 or L2
func (m Metric) Valid() bool {
	return m == L1 || m == L2
}

// InitialUnif draws one coordinate uniformly from (-6/sqrt(k), 6/sqrt(k))
func InitialUnif(rng *rand.Rand, k int) float64 {
	bound := 6.0 / math.Sqrt(float64(k))
	for {
		x := -bound + 2*bound*rng.Float64()
		if x != -bound {
			return x
		}
	}
}

// InitVector returns a k-length vector with uniform coordinates in (-6/sqrt(k), 6/sqrt(k))
func InitVector(rng *rand.Rand, k int) []float64 {
	v := make([]float64, k)
	for i := range v {
		v[i] = InitialUnif(rng, k)
	}
	return v
}

// InitUnitVector returns InitVector scaled to unit length, redrawing in the
// (measure-zero) case of an all-zero draw.
func InitUnitVector(rng *rand.Rand, k int) []float64 {
	for {
		v := InitVector(rng, k)
		if NormalizeInPlace(v) {
			return v
		}
	}
}

// Norm returns v scaled to unit L2 norm. A zero vector is returned as a zero
// copy instead of propagating NaN; use NormalizeInPlace to detect that case.
func Norm(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	NormalizeInPlace(out)
	return out
}

// NormalizeInPlace scales v to unit L2 norm and reports whether it could.
// v is left untouched when its norm is zero or not finite.
func NormalizeInPlace(v []float64) bool {
	n := floats.Norm(v, 2)
	if n <= Epsilon || math.IsNaN(n) || math.IsInf(n, 0) {
		return false
	}
	floats.Scale(1/n, v)
	return true
}

// DistanceL1 computes sum |t - h - r|
func DistanceL1(h, r, t []float64) float64 {
	sum := 0.0
	for i := range h {
		sum += math.Abs(t[i] - h[i] - r[i])
	}
	return sum
}

// DistanceL2 computes sum (t - h - r)^2
func DistanceL2(h, r, t []float64) float64 {
	sum := 0.0
	for i := range h {
		d := t[i] - h[i] - r[i]
		sum += d * d
	}
	return sum
}

// Distance dispatches to DistanceL1 or DistanceL2
func Distance(m Metric, h, r, t []float64) float64 {
	if m == L1 {
		return DistanceL1(h, r, t)
	}
	return DistanceL2(h, r, t)
}

// Residual returns h + r - t
func Residual(h, r, t []float64) []float64 {
	e := make([]float64, len(h))
	for i := range e {
		e[i] = h[i] + r[i] - t[i]
	}
	return e
}

// ResidualGradient returns d(score)/d(residual) for residual e = h + r - t:
// sign(e) under L1, 2e under L2.
func ResidualGradient(m Metric, e []float64) []float64 {
	g := make([]float64, len(e))
	for i, x := range e {
		if m == L1 {
			switch {
			case x > 0:
				g[i] = 1
			case x < 0:
				g[i] = -1
			}
		} else {
			g[i] = 2 * x
		}
	}
	return g
}

// Dot returns the dot product of a and b
func Dot(a, b []float64) float64 {
	return floats.Dot(a, b)
}

// EuclideanDistance returns ||a - b||_2
func EuclideanDistance(a, b []float64) float64 {
	return floats.Distance(a, b, 2)
}

// VectorSum returns the sum of the elements of v
func VectorSum(v []float64) float64 {
	return floats.Sum(v)
}

// Sub returns a - b
func Sub(a, b []float64) []float64 {
	out := make([]float64, len(a))
	floats.SubTo(out, a, b)
	return out
}

// PlaneProjection projects v onto the hyperplane with unit normal n: v - (v.n)n
func PlaneProjection(v, n []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	floats.AddScaled(out, -floats.Dot(v, n), n)
	return out
}

// IsOrthogonal reports whether |a.b| is within Epsilon
func IsOrthogonal(a, b []float64) bool {
	return math.Abs(floats.Dot(a, b)) <= Epsilon
}

// CenterPoint returns the coordinate-wise mean of points, or nil for an empty set
func CenterPoint(points [][]float64) []float64 {
	if len(points) == 0 {
		return nil
	}
	center := make([]float64, len(points[0]))
	for _, p := range points {
		floats.Add(center, p)
	}
	floats.Scale(1/float64(len(points)), center)
	return center
}
