package report

import (
	"math"
	"sort"
)

// Stats — описательная статистика выборки.
type Stats struct {
	Count    int
	Min      float64
	Max      float64
	Mean     float64
	Median   float64
	StdDev   float64 // выборочное, n-1
	Skewness float64 // смещённый коэффициент Фишера-Пирсона
}

// Describe считает статистику. Для пустой выборки возвращает нулевое значение,
// для выборки из одинаковых значений асимметрия равна 0.
func Describe(values []float64) Stats {
	n := len(values)
	if n == 0 {
		return Stats{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	s := Stats{Count: n, Min: sorted[0], Max: sorted[n-1]}
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	s.Mean = sum / float64(n)
	if n%2 == 1 {
		s.Median = sorted[n/2]
	} else {
		s.Median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	var m2, m3 float64
	for _, v := range sorted {
		d := v - s.Mean
		m2 += d * d
		m3 += d * d * d
	}
	if n > 1 {
		s.StdDev = math.Sqrt(m2 / float64(n-1))
	}
	m2 /= float64(n)
	m3 /= float64(n)
	if m2 > 0 {
		s.Skewness = m3 / math.Pow(m2, 1.5)
	}
	return s
}

// Pearson возвращает коэффициент корреляции x и y либо NaN, если он не определён.
func Pearson(x, y []float64) float64 {
	n := len(x)
	if n != len(y) || n < 2 {
		return math.NaN()
	}
	var mx, my float64
	for i := range x {
		mx += x[i]
		my += y[i]
	}
	mx /= float64(n)
	my /= float64(n)
	var sxy, sxx, syy float64
	for i := range x {
		dx, dy := x[i]-mx, y[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return math.NaN()
	}
	return sxy / math.Sqrt(sxx*syy)
}
