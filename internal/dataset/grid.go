package dataset

import (
	"fmt"
	"math"

	"github.com/batchatco/go-native-netcdf/netcdf"
)

// Grid is the lat x lon grid of the input and the cells that take part in
// the computation. Cell k of a Field is grid point Cells[k], counted
// lat-major.
type Grid struct {
	Lat   []float64
	Lon   []float64
	Cells []int
}

// FullGrid keeps every grid point.
func FullGrid(lat, lon []float64) *Grid {
	g := &Grid{Lat: lat, Lon: lon, Cells: make([]int, len(lat)*len(lon))}
	for i := range g.Cells {
		g.Cells[i] = i
	}
	return g
}

// NewGrid keeps the grid points whose mask value is non-zero. NaN counts as
// zero.
func NewGrid(lat, lon, mask []float64) (*Grid, error) {
	if len(mask) != len(lat)*len(lon) {
		return nil, fmt.Errorf("mask has %d points; want %d", len(mask), len(lat)*len(lon))
	}
	g := &Grid{Lat: lat, Lon: lon}
	for i, m := range mask {
		if m != 0 && !math.IsNaN(m) {
			g.Cells = append(g.Cells, i)
		}
	}
	return g, nil
}

// LoadMask reads a land-sea mask variable from path. The variable is either
// lat x lon or has a leading dimension of length one.
func LoadMask(path, name string, lat, lon []float64) (*Grid, error) {
	nc, err := netcdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", path, err)
	}
	defer nc.Close()

	vg, err := nc.GetVarGetter(name)
	if err != nil {
		return nil, fmt.Errorf("%s: cannot find variable %q: %w", path, name, err)
	}
	shape := vg.Shape()
	if len(shape) == 3 && shape[0] == 1 {
		shape = shape[1:]
	}
	if len(shape) != 2 || int(shape[0]) != len(lat) || int(shape[1]) != len(lon) {
		return nil, fmt.Errorf("%s: mask %q has shape %v; want (%d, %d)", path, name, vg.Shape(), len(lat), len(lon))
	}
	raw, err := vg.Values()
	if err != nil {
		return nil, fmt.Errorf("%s: cannot read %q: %w", path, name, err)
	}
	mask, err := toFloat64(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: cannot read %q: %w", path, name, err)
	}
	newUnpacker(vg.Attributes()).withoutKelvin().apply(mask)
	return NewGrid(lat, lon, mask)
}

// NLat returns the number of latitudes.
func (g *Grid) NLat() int { return len(g.Lat) }

// NLon returns the number of longitudes.
func (g *Grid) NLon() int { return len(g.Lon) }

// Len returns the number of kept cells.
func (g *Grid) Len() int { return len(g.Cells) }

// Point returns the coordinates of kept cell k.
func (g *Grid) Point(k int) (lat, lon float64) {
	p := g.Cells[k]
	return g.Lat[p/len(g.Lon)], g.Lon[p%len(g.Lon)]
}

// Gather copies the kept cells of a full lat x lon field into dst.
func (g *Grid) Gather(dst, full []float64) {
	for k, p := range g.Cells {
		dst[k] = full[p]
	}
}

// Scatter returns a lat x lon array holding cells at the kept points and
// fill elsewhere.
func (g *Grid) Scatter(cells []float64, fill float64) [][]float64 {
	out := make([][]float64, len(g.Lat))
	for i := range out {
		out[i] = make([]float64, len(g.Lon))
		for j := range out[i] {
			out[i][j] = fill
		}
	}
	for k, p := range g.Cells {
		v := cells[k]
		if math.IsNaN(v) {
			v = fill
		}
		out[p/len(g.Lon)][p%len(g.Lon)] = v
	}
	return out
}
