package distributions

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// StatisticalDistributions gives every stage the same p-value and quantile helpers
type StatisticalDistributions struct{}

// New creates a new distributions utility
func New() *StatisticalDistributions {
	return &StatisticalDistributions{}
}

// TTestPValue computes the two-tailed p-value of a t statistic
func (sd *StatisticalDistributions) TTestPValue(tStatistic float64, degreesOfFreedom int) float64 {
	if degreesOfFreedom <= 0 {
		return 1.0
	}

	tDist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(degreesOfFreedom)}
	return 2 * tDist.Survival(math.Abs(tStatistic))
}

// CorrelationPValue tests r against zero with a t statistic on n-2 df
func (sd *StatisticalDistributions) CorrelationPValue(correlation float64, sampleSize int) float64 {
	if sampleSize < 3 {
		return 1.0
	}
	if math.Abs(correlation) >= 1 {
		return 0
	}

	df := float64(sampleSize - 2)
	tStatistic := correlation * math.Sqrt(df/(1-correlation*correlation))
	return sd.TTestPValue(tStatistic, sampleSize-2)
}

// FTestPValue computes the upper-tail p-value of an F statistic
func (sd *StatisticalDistributions) FTestPValue(fStatistic float64, df1, df2 float64) float64 {
	if df1 <= 0 || df2 <= 0 {
		return 1.0
	}

	fDist := distuv.F{D1: df1, D2: df2}
	return fDist.Survival(fStatistic)
}

// ChiSquarePValue computes the upper-tail p-value of a chi-square statistic
func (sd *StatisticalDistributions) ChiSquarePValue(chiSquare float64, degreesOfFreedom int) float64 {
	if degreesOfFreedom <= 0 {
		return 1.0
	}
	if chiSquare <= 0 {
		return 1.0
	}

	chiDist := distuv.ChiSquared{K: float64(degreesOfFreedom)}
	return chiDist.Survival(chiSquare)
}

// NormalCDF computes the standard normal CDF
func (sd *StatisticalDistributions) NormalCDF(x float64) float64 {
	return distuv.UnitNormal.CDF(x)
}

// NormalTwoTailedPValue is 2·(1 - Φ(|z|))
func (sd *StatisticalDistributions) NormalTwoTailedPValue(z float64) float64 {
	return 2 * distuv.UnitNormal.Survival(math.Abs(z))
}

// NormalQuantile computes the standard normal inverse CDF
func (sd *StatisticalDistributions) NormalQuantile(p float64) float64 {
	return distuv.UnitNormal.Quantile(p)
}

// TQuantile computes the Student t inverse CDF
func (sd *StatisticalDistributions) TQuantile(p float64, df float64) float64 {
	return distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}.Quantile(p)
}

// FQuantile computes the F inverse CDF
func (sd *StatisticalDistributions) FQuantile(p, df1, df2 float64) float64 {
	return distuv.F{D1: df1, D2: df2}.Quantile(p)
}

// ChiSquareQuantile computes the chi-square inverse CDF
func (sd *StatisticalDistributions) ChiSquareQuantile(p float64, df float64) float64 {
	return distuv.ChiSquared{K: df}.Quantile(p)
}

// NoncentralChiSquareCDF evaluates P(X <= x) for a noncentral chi-square with
// df degrees of freedom and noncentrality lambda, as a Poisson mixture of
// central chi-squares summed outward from the mixture mode.
func (sd *StatisticalDistributions) NoncentralChiSquareCDF(x, df, lambda float64) float64 {
	if x <= 0 {
		return 0
	}
	if lambda <= 0 {
		return distuv.ChiSquared{K: df}.CDF(x)
	}

	half := lambda / 2
	mode := math.Floor(half)
	logWeight := func(j float64) float64 {
		lg, _ := math.Lgamma(j + 1)
		return -half + j*math.Log(half) - lg
	}

	const eps = 1e-14
	sum := 0.0
	for j := mode; j >= 0; j-- {
		w := math.Exp(logWeight(j))
		sum += w * distuv.ChiSquared{K: df + 2*j}.CDF(x)
		if w < eps && j < mode {
			break
		}
	}
	for j := mode + 1; ; j++ {
		w := math.Exp(logWeight(j))
		sum += w * distuv.ChiSquared{K: df + 2*j}.CDF(x)
		if w < eps || j > mode+1e5 {
			break
		}
	}
	return math.Min(1, math.Max(0, sum))
}

// RMSEAInterval returns the confidence bounds of RMSEA from the noncentrality
// parameters that place the observed chi-square at the two tail quantiles.
// divisor is the sample-size term of the RMSEA formula (N or N-1).
func (sd *StatisticalDistributions) RMSEAInterval(chiSquare float64, df int, divisor float64, confidence float64) (lower, upper float64) {
	if df <= 0 || divisor <= 0 {
		return 0, 0
	}
	d := float64(df)
	tail := (1 - confidence) / 2

	lambdaFor := func(target float64) float64 {
		// CDF is decreasing in lambda
		if sd.NoncentralChiSquareCDF(chiSquare, d, 0) < target {
			return 0
		}
		lo, hi := 0.0, math.Max(chiSquare, 1)
		for sd.NoncentralChiSquareCDF(chiSquare, d, hi) > target {
			hi *= 2
			if hi > 1e7 {
				break
			}
		}
		for i := 0; i < 200 && hi-lo > 1e-8; i++ {
			mid := (lo + hi) / 2
			if sd.NoncentralChiSquareCDF(chiSquare, d, mid) > target {
				lo = mid
			} else {
				hi = mid
			}
		}
		return (lo + hi) / 2
	}

	lambdaL := lambdaFor(1 - tail)
	lambdaU := lambdaFor(tail)
	return math.Sqrt(lambdaL / (divisor * d)), math.Sqrt(lambdaU / (divisor * d))
}

// RMSEA computes the point estimate sqrt(max(chi2-df, 0) / (df·divisor))
func (sd *StatisticalDistributions) RMSEA(chiSquare float64, df int, divisor float64) float64 {
	if df <= 0 || divisor <= 0 {
		return 0
	}
	return math.Sqrt(math.Max(chiSquare-float64(df), 0) / (float64(df) * divisor))
}

// FisherZ is the variance-stabilizing transform atanh(r)
func (sd *StatisticalDistributions) FisherZ(r float64) float64 {
	return math.Atanh(r)
}
