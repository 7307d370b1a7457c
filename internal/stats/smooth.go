package stats

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// SmoothingPenalty maps a smoothing parameter in [0, 1) onto the roughness
// penalty of the penalized spline. 0 disables smoothing, values approaching 1
// approach a straight-line fit.
func SmoothingPenalty(spar float64) (float64, error) {
	if spar < 0 || spar >= 1 {
		return 0, fmt.Errorf("stats: smoothing parameter %v outside [0, 1)", spar)
	}
	return spar / (1 - spar), nil
}

// PenalizedSpline smooths an equally spaced series with a discrete penalized
// spline (Whittaker smoother): it minimises
//
//	sum (y_i - z_i)^2 + lambda * sum (z_{i-1} - 2 z_i + z_{i+1})^2
//
// by solving the pentadiagonal system (I + lambda D'D) z = y. Straight lines
// pass through unchanged.
func PenalizedSpline(y []float64, spar float64) ([]float64, error) {
	lambda, err := SmoothingPenalty(spar)
	if err != nil {
		return nil, err
	}
	n := len(y)
	if n < 3 || lambda == 0 {
		out := make([]float64, n)
		copy(out, y)
		return out, nil
	}

	// Upper band storage: row i holds A[i,i], A[i,i+1], A[i,i+2].
	const k = 2
	band := make([]float64, n*(k+1))
	diff := [3]float64{1, -2, 1}
	for r := 0; r+2 < n; r++ {
		for a := 0; a < 3; a++ {
			for b := a; b < 3; b++ {
				band[(r+a)*(k+1)+(b-a)] += lambda * diff[a] * diff[b]
			}
		}
	}
	for i := 0; i < n; i++ {
		band[i*(k+1)]++
	}

	var chol mat.BandCholesky
	if ok := chol.Factorize(mat.NewSymBandDense(n, k, band)); !ok {
		return nil, errors.New("stats: smoothing system is not positive definite")
	}
	var z mat.VecDense
	if err := chol.SolveVecTo(&z, mat.NewVecDense(n, append([]float64(nil), y...))); err != nil {
		return nil, fmt.Errorf("stats: smoothing solve: %w", err)
	}

	out := make([]float64, n)
	for i := range out {
		out[i] = z.AtVec(i)
	}
	return out, nil
}
