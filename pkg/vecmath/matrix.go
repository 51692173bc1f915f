package vecmath

import (
	"gonum.org/v1/gonum/mat"
)

// IdentityMatrix returns a k x d matrix with ones on the main diagonal
func IdentityMatrix(k, d int) *mat.Dense {
	m := mat.NewDense(k, d, nil)
	for i := 0; i < k && i < d; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// SpaceProjection maps v through m: returns m * v.
// The result has as many entries as m has rows.
func SpaceProjection(v []float64, m mat.Matrix) []float64 {
	r, _ := m.Dims()
	out := mat.NewVecDense(r, nil)
	out.MulVec(m, mat.NewVecDense(len(v), v))
	return out.RawVector().Data
}

// TransposeProjection returns m^T * v, the pull-back of a gradient in the
// projected space to the source space.
func TransposeProjection(v []float64, m mat.Matrix) []float64 {
	_, c := m.Dims()
	out := mat.NewVecDense(c, nil)
	out.MulVec(m.T(), mat.NewVecDense(len(v), v))
	return out.RawVector().Data
}

// SpectralNorm returns the largest singular value of m
func SpectralNorm(m mat.Matrix) float64 {
	var svd mat.SVD
	if !svd.Factorize(m, mat.SVDNone) {
		return mat.Norm(m, 2)
	}
	values := svd.Values(nil)
	if len(values) == 0 {
		return 0
	}
	return values[0]
}

// NormMatrix returns a copy of m scaled by its spectral norm. A matrix with a
// zero spectral norm is returned unscaled.
func NormMatrix(m mat.Matrix) *mat.Dense {
	out := mat.DenseCopyOf(m)
	NormalizeMatrixInPlace(out)
	return out
}

// NormalizeMatrixInPlace divides m by its spectral norm and reports whether it could
func NormalizeMatrixInPlace(m *mat.Dense) bool {
	n := SpectralNorm(m)
	if n <= Epsilon {
		return false
	}
	m.Scale(1/n, m)
	return true
}

// AddOuter performs m += alpha * a b^T, touching only the cells allowed by mask
// when mask is non-nil (row-major, same shape as m).
func AddOuter(m *mat.Dense, alpha float64, a, b []float64, mask []bool) {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		if a[i] == 0 {
			continue
		}
		for j := 0; j < c; j++ {
			if mask != nil && !mask[i*c+j] {
				continue
			}
			m.Set(i, j, m.At(i, j)+alpha*a[i]*b[j])
		}
	}
}
