package oscar

import (
	"fmt"
	"math"
	"sort"
)

// DefaultTableSize is the number of samples in one wavetable cycle.
const DefaultTableSize = 2048

// WaveFunc generates one cycle of size samples. Args carry shape specific
// parameters; unknown keys are ignored.
type WaveFunc func(size int, args map[string]float64) []float32

// Shapes holds the named wave functions available to the console.
var Shapes = map[string]WaveFunc{
	"sine":      Sine,
	"square":    Square,
	"saw":       Saw,
	"triangle":  Triangle,
	"harmonics": Harmonics,
}

// ShapeNames returns the registered shape names in sorted order.
func ShapeNames() []string {
	names := make([]string, 0, len(Shapes))
	for n := range Shapes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Sine is a single sine cycle.
func Sine(size int, _ map[string]float64) []float32 {
	t := make([]float32, size)
	for i := range t {
		t[i] = float32(math.Sin(2 * math.Pi * float64(i) / float64(size)))
	}
	return t
}

// Square is a pulse wave; args["duty"] sets the high fraction (default 0.5).
func Square(size int, args map[string]float64) []float32 {
	duty := 0.5
	if d, ok := args["duty"]; ok {
		duty = d
	}
	t := make([]float32, size)
	for i := range t {
		if float64(i)/float64(size) < duty {
			t[i] = 1
		} else {
			t[i] = -1
		}
	}
	return t
}

// Saw is a rising ramp from -1 to 1.
func Saw(size int, _ map[string]float64) []float32 {
	t := make([]float32, size)
	for i := range t {
		t[i] = float32(2*float64(i)/float64(size) - 1)
	}
	return t
}

// Triangle rises from -1 to 1 and back over one cycle.
func Triangle(size int, _ map[string]float64) []float32 {
	t := make([]float32, size)
	for i := range t {
		x := float64(i) / float64(size)
		t[i] = float32(1 - 4*math.Abs(x-0.5))
	}
	return t
}

// Harmonics sums sine partials; args["h1"], args["h2"], ... give the weight
// of each partial. With no weights it is a plain sine.
func Harmonics(size int, args map[string]float64) []float32 {
	t := make([]float32, size)
	weights := map[int]float64{}
	for k, v := range args {
		var n int
		if _, err := fmt.Sscanf(k, "h%d", &n); err == nil && n > 0 {
			weights[n] = v
		}
	}
	if len(weights) == 0 {
		weights[1] = 1
	}
	for i := range t {
		x := 2 * math.Pi * float64(i) / float64(size)
		var s float64
		for n, w := range weights {
			s += w * math.Sin(float64(n)*x)
		}
		t[i] = float32(s)
	}
	return t
}

// Normalize scales table in place so its peak magnitude is exactly 1.
// An all-zero (or empty) table cannot be normalized and returns
// ErrSilentWavetable, leaving table unchanged. A NaN or infinite sample
// returns ErrNotFinite.
func Normalize(table []float32) error {
	var peak float64
	for i, s := range table {
		f := float64(s)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: sample %d is %g", ErrNotFinite, i, f)
		}
		if a := math.Abs(f); a > peak {
			peak = a
		}
	}
	if peak == 0 || math.IsNaN(peak) || math.IsInf(peak, 0) {
		return ErrSilentWavetable
	}
	for i, s := range table {
		table[i] = float32(float64(s) / peak)
	}
	return nil
}

// Wavetable generates and normalizes a table from shape.
func Wavetable(shape WaveFunc, args map[string]float64, size int) ([]float32, error) {
	if shape == nil {
		shape = Sine
	}
	if size <= 0 {
		size = DefaultTableSize
	}
	table := shape(size, args)
	if len(table) != size {
		return nil, fmt.Errorf("wave function returned %d samples, want %d", len(table), size)
	}
	if err := Normalize(table); err != nil {
		return nil, err
	}
	return table, nil
}

// WrapPhase maps any offset onto [0,1) using true mathematical modulo, so
// -0.25 becomes 0.75. NaN and infinities map to 0.
func WrapPhase(p float64) float64 {
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return 0
	}
	w := math.Mod(p, 1)
	if w < 0 {
		w++
	}
	if w >= 1 {
		w = 0
	}
	return w
}
