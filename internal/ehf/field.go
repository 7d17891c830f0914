package ehf

import (
	"math"
	"sync"
)

// Field is a time x cell array of float64 stored row-major: the value for day
// t at cell g lives at Data[t*NCells+g].
type Field struct {
	NTime  int
	NCells int
	Data   []float64
}

// NewField allocates a zero-filled field.
func NewField(nTime, nCells int) *Field {
	return &Field{NTime: nTime, NCells: nCells, Data: make([]float64, nTime*nCells)}
}

// NaNField allocates a field filled with NaN.
func NaNField(nTime, nCells int) *Field {
	f := NewField(nTime, nCells)
	for i := range f.Data {
		f.Data[i] = math.NaN()
	}
	return f
}

// At returns the value for day t at cell g.
func (f *Field) At(t, g int) float64 { return f.Data[t*f.NCells+g] }

// Set stores v for day t at cell g.
func (f *Field) Set(t, g int, v float64) { f.Data[t*f.NCells+g] = v }

// Row returns the values of all cells on day t. The slice aliases the field.
func (f *Field) Row(t int) []float64 { return f.Data[t*f.NCells : (t+1)*f.NCells] }

// Column copies the series of cell g over days [from, to).
func (f *Field) Column(g, from, to int) []float64 {
	col := make([]float64, to-from)
	for t := from; t < to; t++ {
		col[t-from] = f.Data[t*f.NCells+g]
	}
	return col
}

// SetColumn stores col as the series of cell g starting at day 0.
func (f *Field) SetColumn(g int, col []float64) {
	for t, v := range col {
		f.Data[t*f.NCells+g] = v
	}
}

// forEachCell calls fn once for every cell index. Cells are handed out in
// contiguous chunks to at most workers goroutines; fn must only touch state
// belonging to its own cell.
func forEachCell(nCells, workers int, fn func(g int)) {
	if workers < 1 {
		workers = 1
	}
	if workers > nCells {
		workers = nCells
	}
	if workers <= 1 {
		for g := 0; g < nCells; g++ {
			fn(g)
		}
		return
	}

	chunk := (nCells + workers*4 - 1) / (workers * 4)
	chunksCh := make(chan [2]int)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			for c := range chunksCh {
				for g := c[0]; g < c[1]; g++ {
					fn(g)
				}
			}
			wg.Done()
		}()
	}
	for begin := 0; begin < nCells; begin += chunk {
		limit := begin + chunk
		if limit > nCells {
			limit = nCells
		}
		chunksCh <- [2]int{begin, limit}
	}
	close(chunksCh)
	wg.Wait()
}
