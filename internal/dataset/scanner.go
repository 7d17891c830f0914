package dataset

import (
	"fmt"
	"math"
	"strings"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"

	"github.com/rtm0/ehfheatwaves/internal/calendar"
)

const kelvinOffset = 273.15

// unpacker turns stored values into degrees Celsius (or the variable's own
// units when it is not a temperature in K).
type unpacker struct {
	scale  float64
	offset float64
	fill   []float64
	kelvin bool
}

func newUnpacker(am api.AttributeMap) unpacker {
	u := unpacker{
		scale:  attrFloat(am, "scale_factor", 1),
		offset: attrFloat(am, "add_offset", 0),
	}
	u.fill = append(u.fill, attrFloats(am, "_FillValue")...)
	u.fill = append(u.fill, attrFloats(am, "missing_value")...)
	units, _ := attrString(am, "units")
	u.kelvin = strings.TrimSpace(units) == "K"
	return u
}

func (u unpacker) apply(v []float64) {
	for i, x := range v {
		if u.isFill(x) {
			v[i] = math.NaN()
			continue
		}
		x = x*u.scale + u.offset
		if u.kelvin {
			x -= kelvinOffset
		}
		v[i] = x
	}
}

func (u unpacker) isFill(x float64) bool {
	for _, f := range u.fill {
		if x == f {
			return true
		}
	}
	return false
}

func (u unpacker) withoutKelvin() unpacker {
	u.kelvin = false
	return u
}

// Scanner retrieves a daily variable from a file one time step at a time.
type Scanner struct {
	path   string
	name   string
	nc     api.Group
	vg     api.VarGetter
	lat    []float64
	lon    []float64
	axis   *calendar.Axis
	meta   Meta
	unpack unpacker
	pos    int
	values []float64
	err    error
}

// NewScanner opens the variable name of the NetCDF file at path. The variable
// must be dimensioned (time, lat, lon).
func NewScanner(path, name string) (*Scanner, error) {
	nc, err := netcdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", path, err)
	}
	s, err := newScanner(nc, path, name)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func newScanner(nc api.Group, path, name string) (*Scanner, error) {
	s := &Scanner{path: path, name: name, nc: nc}
	var err error
	s.lat, _, err = coordValues(nc, "lat", "latitude")
	if err != nil {
		return nil, err
	}
	s.lon, _, err = coordValues(nc, "lon", "longitude")
	if err != nil {
		return nil, err
	}

	tv, err := nc.GetVarGetter("time")
	if err != nil {
		return nil, fmt.Errorf("cannot find time variable: %w", err)
	}
	raw, err := tv.Values()
	if err != nil {
		return nil, fmt.Errorf("cannot read time variable: %w", err)
	}
	times, err := toFloat64(raw)
	if err != nil {
		return nil, fmt.Errorf("cannot read time variable: %w", err)
	}
	units, _ := attrString(tv.Attributes(), "units")
	cal, _ := attrString(tv.Attributes(), "calendar")
	s.axis, err = calendar.NewAxis(times, units, cal)
	if err != nil {
		return nil, err
	}

	s.vg, err = nc.GetVarGetter(name)
	if err != nil {
		return nil, fmt.Errorf("cannot find variable %q: %w", name, err)
	}
	if shape := s.vg.Shape(); len(shape) != 3 || int(shape[0]) != len(times) ||
		int(shape[1]) != len(s.lat) || int(shape[2]) != len(s.lon) {
		return nil, fmt.Errorf("variable %q has shape %v; want (time=%d, lat=%d, lon=%d)",
			name, shape, len(times), len(s.lat), len(s.lon))
	}
	s.unpack = newUnpacker(s.vg.Attributes())
	s.meta = readMeta(nc.Attributes(), s.axis.Calendar)
	return s, nil
}

// Close closes the scanner.
func (s *Scanner) Close() {
	s.nc.Close()
}

// Summary returns the summary information about the file suitable for
// logging.
func (s *Scanner) Summary() []any {
	first, last := "", ""
	if n := s.axis.Len(); n > 0 {
		first, last = s.axis.Dates[0].String(), s.axis.Dates[n-1].String()
	}
	return []any{
		"file", s.path,
		"variable", s.name,
		"calendar", s.axis.Calendar,
		"first", first,
		"last", last,
		"tsCnt", s.axis.Len(),
		"latCnt", len(s.lat),
		"lonCnt", len(s.lon),
		"kelvin", s.unpack.kelvin,
	}
}

// Axis returns the decoded time axis of the file.
func (s *Scanner) Axis() *calendar.Axis { return s.axis }

// Lat returns the latitude coordinate.
func (s *Scanner) Lat() []float64 { return s.lat }

// Lon returns the longitude coordinate.
func (s *Scanner) Lon() []float64 { return s.lon }

// Meta returns the model metadata found in the file's global attributes.
func (s *Scanner) Meta() Meta { return s.meta }

// Skip advances past the next time step without reading it.
func (s *Scanner) Skip() bool {
	if s.err != nil || s.pos >= s.axis.Len() {
		return false
	}
	s.pos++
	return true
}

// Scan reads the lat x lon field of the next time step.
func (s *Scanner) Scan() bool {
	if s.err != nil || s.pos >= s.axis.Len() {
		return false
	}
	begin := int64(s.pos)
	v, err := s.vg.GetSlice(begin, begin+1)
	if err != nil {
		s.err = fmt.Errorf("cannot read %s step %d: %w", s.name, s.pos, err)
		return false
	}
	values, err := toFloat64(v)
	if err != nil {
		s.err = fmt.Errorf("cannot read %s step %d: %w", s.name, s.pos, err)
		return false
	}
	s.unpack.apply(values)
	s.values = values
	s.pos++
	return true
}

// Values returns the field read by the last Scan() operation, flattened
// lat-major. The function transfers ownership of the slice to the caller and
// subsequent calls without prior invocation of Scan() return nil.
func (s *Scanner) Values() []float64 {
	v := s.values
	s.values = nil
	return v
}

// Err returns the first error encountered by Scan.
func (s *Scanner) Err() error { return s.err }

// Meta is the model description carried by CMIP-style global attributes.
type Meta struct {
	Model       string
	Experiment  string
	Realization string
	Calendar    string
}

func readMeta(am api.AttributeMap, cal string) Meta {
	m := Meta{Calendar: cal}
	m.Model, _ = attrString(am, "model_id")
	m.Experiment, _ = attrString(am, "experiment")
	m.Realization, _ = attrString(am, "realization")
	return m
}
