package ehf

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Method selects the interpolation convention used to estimate a percentile
// from a finite sample.
type Method int

const (
	// Climpact is Hyndman & Fan type 8 (a = b = 1/3), as used by climdex.
	Climpact Method = iota
	// Zhang ranks at (n+1)p and clamps to the sample ends (Zhang et al. 2005).
	Zhang
	// Matlab is Hyndman & Fan type 5 (a = b = 1/2), MATLAB's prctile.
	Matlab
	// Python is linear interpolation on rank (n-1)p, numpy's default.
	Python
)

var methodNames = [...]string{
	Climpact: "climpact",
	Zhang:    "zhang",
	Matlab:   "matlab",
	Python:   "python",
}

// MethodNames lists the accepted method names.
func MethodNames() []string { return append([]string(nil), methodNames[:]...) }

// ParseMethod returns the method with the given name.
func ParseMethod(name string) (Method, error) {
	for m, n := range methodNames {
		if strings.EqualFold(name, n) {
			return Method(m), nil
		}
	}
	return 0, fmt.Errorf("%w %q", ErrMethod, name)
}

func (m Method) String() string {
	if !m.Valid() {
		return fmt.Sprintf("Method(%d)", int(m))
	}
	return methodNames[m]
}

// Valid reports whether m is one of the defined methods.
func (m Method) Valid() bool { return m >= Climpact && m <= Python }

// quantileFunc estimates the p-quantile, p in [0,1], of an ascending,
// NaN-free, non-empty sample.
type quantileFunc func(x []float64, p float64) float64

var quantileFuncs = [...]quantileFunc{
	Climpact: hyndmanFan(1.0/3, 1.0/3),
	Zhang:    zhang,
	Matlab:   hyndmanFan(0.5, 0.5),
	Python:   linear,
}

// Quantile returns the pct-th percentile of sample. NaN values are ignored;
// an empty sample yields NaN. The sample is not modified.
func (m Method) Quantile(sample []float64, pct float64) float64 {
	x := make([]float64, 0, len(sample))
	for _, v := range sample {
		if !math.IsNaN(v) {
			x = append(x, v)
		}
	}
	if len(x) == 0 {
		return math.NaN()
	}
	sort.Float64s(x)
	return quantileFuncs[m](x, pct/100)
}

const fuzz = 4 * 2.220446049250313e-16

func hyndmanFan(a, b float64) quantileFunc {
	return func(x []float64, p float64) float64 {
		nppm := a + p*(float64(len(x))+1-a-b)
		j := math.Floor(nppm + fuzz)
		h := nppm - j
		if math.Abs(h) < fuzz {
			h = 0
		}
		lo, hi := orderStat(x, int(j)), orderStat(x, int(j)+1)
		if h == 0 {
			return lo
		}
		return (1-h)*lo + h*hi
	}
}

// orderStat returns the k-th (1-based) order statistic, clamped to the ends.
func orderStat(x []float64, k int) float64 {
	switch {
	case k < 1:
		return x[0]
	case k > len(x):
		return x[len(x)-1]
	}
	return x[k-1]
}

func zhang(x []float64, p float64) float64 {
	n := len(x)
	rank := float64(n+1) * p
	j := math.Floor(rank)
	f := rank - j
	switch {
	case j < 1:
		return x[0]
	case int(j) >= n:
		return x[n-1]
	}
	return (1-f)*x[int(j)-1] + f*x[int(j)]
}

func linear(x []float64, p float64) float64 {
	n := len(x)
	rank := float64(n-1) * p
	j := int(math.Floor(rank))
	if j >= n-1 {
		return x[n-1]
	}
	return x[j] + (rank-float64(j))*(x[j+1]-x[j])
}
