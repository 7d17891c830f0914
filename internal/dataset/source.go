package dataset

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sort"

	"github.com/rtm0/ehfheatwaves/internal/calendar"
	"github.com/rtm0/ehfheatwaves/internal/ehf"
)

// Expand resolves a file name or glob pattern to a sorted list of files.
func Expand(pattern string) ([]string, error) {
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("bad file pattern %q: %w", pattern, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no files match %q", pattern)
	}
	sort.Strings(files)
	return files, nil
}

// Dataset is one daily variable spread over consecutive files and joined on
// the time axis.
type Dataset struct {
	Pattern  string
	Variable string
	Files    []string
	Lat      []float64
	Lon      []float64
	Axis     *calendar.Axis
	Meta     Meta

	// steps[i] is the number of time steps in Files[i].
	steps []int
}

// Open scans the headers of every file matching pattern and joins their time
// axes. The data itself is read by Load.
func Open(logger *slog.Logger, pattern, variable string) (*Dataset, error) {
	files, err := Expand(pattern)
	if err != nil {
		return nil, err
	}
	d := &Dataset{Pattern: pattern, Variable: variable, Files: files}
	axes := make([]*calendar.Axis, 0, len(files))
	for i, path := range files {
		s, err := NewScanner(path, variable)
		if err != nil {
			return nil, err
		}
		logger.Info("Dataset summary", s.Summary()...)
		if i == 0 {
			d.Lat, d.Lon, d.Meta = s.Lat(), s.Lon(), s.Meta()
		} else if !slices.Equal(d.Lat, s.Lat()) || !slices.Equal(d.Lon, s.Lon()) {
			s.Close()
			return nil, fmt.Errorf("%s: grid differs from %s", path, files[0])
		}
		axes = append(axes, s.Axis())
		d.steps = append(d.steps, s.Axis().Len())
		s.Close()
	}
	d.Axis, err = calendar.Concat(axes...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", pattern, err)
	}
	return d, nil
}

// Load reads the time steps listed in idx (ascending indices into Axis) at
// the cells of grid.
func (d *Dataset) Load(idx []int, grid *Grid) (*ehf.Field, error) {
	if !slices.IsSorted(idx) {
		return nil, errors.New("time indices must be ascending")
	}
	if grid.NLat() != len(d.Lat) || grid.NLon() != len(d.Lon) {
		return nil, fmt.Errorf("%s: grid is %dx%d, mask is %dx%d",
			d.Pattern, len(d.Lat), len(d.Lon), grid.NLat(), grid.NLon())
	}
	out := ehf.NewField(len(idx), grid.Len())
	row := 0
	offset := 0
	for i, path := range d.Files {
		n := d.steps[i]
		if row < len(idx) && idx[row] < offset+n {
			if err := d.loadFile(path, offset, idx, &row, grid, out); err != nil {
				return nil, err
			}
		}
		offset += n
	}
	if row != len(idx) {
		return nil, fmt.Errorf("%s: time index %d out of range", d.Pattern, idx[row])
	}
	return out, nil
}

func (d *Dataset) loadFile(path string, offset int, idx []int, row *int, grid *Grid, out *ehf.Field) error {
	s, err := NewScanner(path, d.Variable)
	if err != nil {
		return err
	}
	defer s.Close()

	for pos := offset; *row < len(idx); pos++ {
		if idx[*row] != pos {
			if !s.Skip() {
				break
			}
			continue
		}
		if !s.Scan() {
			break
		}
		grid.Gather(out.Row(*row), s.Values())
		*row++
	}
	return s.Err()
}

// Average stores the element-wise mean of dst and other in dst. The daily
// mean temperature is the average of the daily maximum and minimum.
func Average(dst, other *ehf.Field) error {
	if dst.NTime != other.NTime || dst.NCells != other.NCells {
		return fmt.Errorf("%w: %dx%d and %dx%d", ehf.ErrShape, dst.NTime, dst.NCells, other.NTime, other.NCells)
	}
	for i, v := range other.Data {
		dst.Data[i] = (dst.Data[i] + v) / 2
	}
	return nil
}
