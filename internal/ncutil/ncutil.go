// Package ncutil reads and writes NetCDF variables as flat float64 slices.
package ncutil

import (
	"errors"
	"fmt"
	"reflect"
	"slices"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"
	"github.com/batchatco/go-native-netcdf/netcdf/cdf"
	"github.com/batchatco/go-native-netcdf/netcdf/util"
)

var ErrNoVariable = errors.New("netcdf_variable_not_found")

// Variable is a NetCDF variable with its values flattened in row major
// order. Text variables are returned in Strings instead of Values.
type Variable struct {
	Name       string
	Dimensions []string
	Shape      []int
	Values     []float64
	Strings    []string
	Attributes map[string]any
}

// Attr returns a text attribute, "" when absent.
func (v Variable) Attr(key string) string {
	s, _ := v.Attributes[key].(string)
	return s
}

// File is an open NetCDF file.
type File struct {
	path string
	g    api.Group
}

func Open(path string) (*File, error) {
	g, err := netcdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &File{path: path, g: g}, nil
}

func (f *File) Close() { f.g.Close() }

// Names lists the variables in file order.
func (f *File) Names() []string { return f.g.ListVariables() }

func (f *File) Has(name string) bool { return slices.Contains(f.Names(), name) }

// Read loads one variable.
func (f *File) Read(name string) (Variable, error) {
	if !f.Has(name) {
		return Variable{}, fmt.Errorf("%w: %s in %s", ErrNoVariable, name, f.path)
	}
	vg, err := f.g.GetVarGetter(name)
	if err != nil {
		return Variable{}, fmt.Errorf("read %s in %s: %w", name, f.path, err)
	}
	raw, err := vg.Values()
	if err != nil {
		return Variable{}, fmt.Errorf("read %s in %s: %w", name, f.path, err)
	}
	v := Variable{Name: name, Dimensions: vg.Dimensions(), Attributes: map[string]any{}}
	if attrs := vg.Attributes(); attrs != nil {
		for _, key := range attrs.Keys() {
			v.Attributes[key], _ = attrs.Get(key)
		}
	}
	if err := flatten(reflect.ValueOf(raw), &v, 0); err != nil {
		return Variable{}, fmt.Errorf("read %s in %s: %w", name, f.path, err)
	}
	return v, nil
}

// ReadVar opens path and loads one variable.
func ReadVar(path, name string) (Variable, error) {
	f, err := Open(path)
	if err != nil {
		return Variable{}, err
	}
	defer f.Close()
	return f.Read(name)
}

func flatten(rv reflect.Value, v *Variable, depth int) error {
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if len(v.Shape) == depth {
			v.Shape = append(v.Shape, rv.Len())
		}
		for i := range rv.Len() {
			if err := flatten(rv.Index(i), v, depth+1); err != nil {
				return err
			}
		}
	case reflect.String:
		v.Strings = append(v.Strings, rv.String())
	case reflect.Float32, reflect.Float64:
		v.Values = append(v.Values, rv.Float())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v.Values = append(v.Values, float64(rv.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		v.Values = append(v.Values, float64(rv.Uint()))
	case reflect.Interface, reflect.Pointer:
		if rv.IsNil() {
			return errors.New("nil value")
		}
		return flatten(rv.Elem(), v, depth)
	default:
		return fmt.Errorf("unsupported value type %s", rv.Type())
	}
	return nil
}

// Write creates path with the given variables. Values are taken from Values
// reshaped to Shape, or from Strings for one dimensional text variables.
func Write(path string, vars []Variable) error {
	w, err := cdf.OpenWriter(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	for _, v := range vars {
		values, err := nested(v)
		if err != nil {
			w.Close()
			return fmt.Errorf("variable %s: %w", v.Name, err)
		}
		attrs, err := orderedAttrs(v.Attributes)
		if err != nil {
			w.Close()
			return fmt.Errorf("variable %s: %w", v.Name, err)
		}
		if err := w.AddVar(v.Name, api.Variable{Values: values, Dimensions: v.Dimensions, Attributes: attrs}); err != nil {
			w.Close()
			return fmt.Errorf("variable %s: %w", v.Name, err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func orderedAttrs(m map[string]any) (*util.OrderedMap, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	if m == nil {
		m = map[string]any{}
	}
	return util.NewOrderedMap(keys, m)
}

// nested turns the flat values into the nested slices the writer expects.
func nested(v Variable) (any, error) {
	if v.Strings != nil {
		if len(v.Dimensions) != 1 {
			return nil, errors.New("text variables must be one dimensional")
		}
		return v.Strings, nil
	}
	shape := v.Shape
	if len(shape) == 0 {
		shape = []int{len(v.Values)}
	}
	if len(shape) != len(v.Dimensions) {
		return nil, fmt.Errorf("shape %v does not match dimensions %v", shape, v.Dimensions)
	}
	n := 1
	for _, d := range shape {
		n *= d
	}
	if n != len(v.Values) {
		return nil, fmt.Errorf("shape %v holds %d values, got %d", shape, n, len(v.Values))
	}
	switch len(shape) {
	case 1:
		return slices.Clone(v.Values), nil
	case 2:
		out := make([][]float64, shape[0])
		for i := range out {
			out[i] = slices.Clone(v.Values[i*shape[1] : (i+1)*shape[1]])
		}
		return out, nil
	case 3:
		out := make([][][]float64, shape[0])
		for i := range out {
			out[i] = make([][]float64, shape[1])
			for j := range out[i] {
				off := (i*shape[1] + j) * shape[2]
				out[i][j] = slices.Clone(v.Values[off : off+shape[2]])
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("rank %d is not supported", len(shape))
	}
}
