package dataset

import (
	"fmt"
	"strconv"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
)

type number interface {
	~int8 | ~uint8 | ~int16 | ~int32 | ~int64 | ~float32 | ~float64
}

func flat1[T number](dst []float64, v []T) []float64 {
	for _, x := range v {
		dst = append(dst, float64(x))
	}
	return dst
}

func flat2[T number](dst []float64, v [][]T) []float64 {
	for _, row := range v {
		dst = flat1(dst, row)
	}
	return dst
}

func flat3[T number](dst []float64, v [][][]T) []float64 {
	for _, plane := range v {
		dst = flat2(dst, plane)
	}
	return dst
}

// toFloat64 flattens the value returned by a VarGetter or an attribute into
// a row-major []float64.
func toFloat64(v any) ([]float64, error) {
	switch x := v.(type) {
	case float64:
		return []float64{x}, nil
	case float32:
		return []float64{float64(x)}, nil
	case int32:
		return []float64{float64(x)}, nil
	case int16:
		return []float64{float64(x)}, nil
	case int8:
		return []float64{float64(x)}, nil
	case []float64:
		return flat1(nil, x), nil
	case []float32:
		return flat1(nil, x), nil
	case []int64:
		return flat1(nil, x), nil
	case []int32:
		return flat1(nil, x), nil
	case []int16:
		return flat1(nil, x), nil
	case []int8:
		return flat1(nil, x), nil
	case []uint8:
		return flat1(nil, x), nil
	case [][]float64:
		return flat2(nil, x), nil
	case [][]float32:
		return flat2(nil, x), nil
	case [][]int32:
		return flat2(nil, x), nil
	case [][]int16:
		return flat2(nil, x), nil
	case [][]int8:
		return flat2(nil, x), nil
	case [][][]float64:
		return flat3(nil, x), nil
	case [][][]float32:
		return flat3(nil, x), nil
	case [][][]int32:
		return flat3(nil, x), nil
	case [][][]int16:
		return flat3(nil, x), nil
	case [][][]int8:
		return flat3(nil, x), nil
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}

func attrString(am api.AttributeMap, key string) (string, bool) {
	if am == nil {
		return "", false
	}
	v, ok := am.Get(key)
	if !ok {
		return "", false
	}
	switch x := v.(type) {
	case string:
		return x, true
	case []byte:
		return string(x), true
	}
	if f, err := toFloat64(v); err == nil && len(f) == 1 {
		return strconv.FormatFloat(f[0], 'f', -1, 64), true
	}
	return fmt.Sprint(v), true
}

func attrFloats(am api.AttributeMap, key string) []float64 {
	if am == nil {
		return nil
	}
	v, ok := am.Get(key)
	if !ok {
		return nil
	}
	f, err := toFloat64(v)
	if err != nil {
		return nil
	}
	return f
}

func attrFloat(am api.AttributeMap, key string, def float64) float64 {
	if f := attrFloats(am, key); len(f) > 0 {
		return f[0]
	}
	return def
}

// coordValues reads the first existing coordinate variable among names.
func coordValues(nc api.Group, names ...string) ([]float64, string, error) {
	for _, name := range names {
		vg, err := nc.GetVarGetter(name)
		if err != nil {
			continue
		}
		v, err := vg.Values()
		if err != nil {
			return nil, "", fmt.Errorf("cannot read %s: %w", name, err)
		}
		f, err := toFloat64(v)
		if err != nil {
			return nil, "", fmt.Errorf("cannot read %s: %w", name, err)
		}
		return f, name, nil
	}
	return nil, "", fmt.Errorf("none of the variables %q found", names)
}
