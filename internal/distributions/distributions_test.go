package distributions

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPValues(t *testing.T) {
	sd := New()

	assert.InDelta(t, 0.05, sd.ChiSquarePValue(3.841459, 1), 1e-5)
	assert.InDelta(t, 0.05, sd.NormalTwoTailedPValue(1.959964), 1e-5)
	assert.InDelta(t, 1.959964, sd.NormalQuantile(0.975), 1e-5)
	assert.Equal(t, 1.0, sd.ChiSquarePValue(10, 0))
	assert.Equal(t, 1.0, sd.CorrelationPValue(0.5, 2))
	assert.Equal(t, 0.0, sd.CorrelationPValue(1, 50))

	// r = .3 at n = 50 has t = 2.1764 on 48 df
	assert.InDelta(t, 0.0344, sd.CorrelationPValue(0.3, 50), 5e-4)
}

func TestQuantilesInvertCDFs(t *testing.T) {
	sd := New()

	q := sd.FQuantile(0.975, 3, 40)
	assert.InDelta(t, 0.025, sd.FTestPValue(q, 3, 40), 1e-8)

	tq := sd.TQuantile(0.975, 10)
	assert.InDelta(t, 0.05, sd.TTestPValue(tq, 10), 1e-8)
}

func TestNoncentralChiSquareCDF(t *testing.T) {
	sd := New()

	// lambda = 0 reduces to the central distribution
	assert.InDelta(t, 0.95, sd.NoncentralChiSquareCDF(3.841459, 1, 0), 1e-6)

	// increasing noncentrality shifts mass to the right
	prev := 1.0
	for _, lambda := range []float64{0.5, 2, 8, 32} {
		p := sd.NoncentralChiSquareCDF(20, 10, lambda)
		assert.Less(t, p, prev)
		prev = p
	}

	// mean of a noncentral chi-square is df + lambda, so the CDF at the mean is near one half
	p := sd.NoncentralChiSquareCDF(60+400, 60, 400)
	assert.InDelta(t, 0.5, p, 0.05)
}

func TestRMSEAInterval(t *testing.T) {
	sd := New()

	point := sd.RMSEA(120, 40, 300)
	lo, hi := sd.RMSEAInterval(120, 40, 300, 0.90)
	assert.Less(t, lo, point)
	assert.Greater(t, hi, point)
	assert.False(t, math.IsNaN(lo))

	// a perfectly fitting model has a zero lower bound
	lo, hi = sd.RMSEAInterval(10, 40, 300, 0.90)
	assert.Equal(t, 0.0, lo)
	assert.GreaterOrEqual(t, hi, 0.0)
	assert.Equal(t, 0.0, sd.RMSEA(10, 40, 300))
}
