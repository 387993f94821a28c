package reliability

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Alpha computes raw Cronbach's alpha from the item covariance matrix and
// standardized alpha from the mean inter-item correlation. The matrix is
// shaped as [subjects][items]. Values are not clamped, so a negative alpha
// reports items that covary negatively on average.
func Alpha(responses mat.Matrix) (raw, standardized float64) {
	_, k := responses.Dims()
	if k < 2 {
		return 0, 0
	}
	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, responses, nil)
	raw = alphaFromCovariance(&cov)

	var corr mat.SymDense
	stat.CorrelationMatrix(&corr, responses, nil)
	sum := 0.0
	for i := 0; i < k; i++ {
		for j := i + 1; j < k; j++ {
			sum += corr.At(i, j)
		}
	}
	kf := float64(k)
	rbar := sum / (kf * (kf - 1) / 2)
	standardized = kf * rbar / (1 + (kf-1)*rbar)
	return raw, standardized
}

// AlphaIfDropped returns raw alpha recomputed without each item in turn
func AlphaIfDropped(responses mat.Matrix, items []string) map[string]float64 {
	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, responses, nil)
	k := cov.SymmetricDim()

	out := make(map[string]float64, len(items))
	for drop, item := range items {
		keep := make([]int, 0, k-1)
		for j := 0; j < k; j++ {
			if j != drop {
				keep = append(keep, j)
			}
		}
		sub := mat.NewSymDense(len(keep), nil)
		for a, i := range keep {
			for b := a; b < len(keep); b++ {
				sub.SetSym(a, b, cov.At(i, keep[b]))
			}
		}
		out[item] = alphaFromCovariance(sub)
	}
	return out
}

func alphaFromCovariance(cov *mat.SymDense) float64 {
	k := cov.SymmetricDim()
	if k < 2 {
		return 0
	}
	total, trace := 0.0, 0.0
	for i := 0; i < k; i++ {
		trace += cov.At(i, i)
		for j := 0; j < k; j++ {
			total += cov.At(i, j)
		}
	}
	if total == 0 {
		return 0
	}
	kf := float64(k)
	return kf / (kf - 1) * (1 - trace/total)
}
