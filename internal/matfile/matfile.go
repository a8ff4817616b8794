// Package matfile reads and writes MATLAB level 5 MAT-files.
//
// Numeric arrays of every class are held as float64, so 64 bit integers
// beyond 2^53 lose precision. Sparse arrays and objects are not supported.
package matfile

import (
	"errors"
	"fmt"
	"slices"
	"unicode/utf16"
)

var (
	ErrFormat      = errors.New("invalid_mat_file")
	ErrUnsupported = errors.New("unsupported_mat_array")
)

// Class is the MATLAB array class.
type Class uint8

const (
	ClassCell   Class = 1
	ClassStruct Class = 2
	ClassObject Class = 3
	ClassChar   Class = 4
	ClassSparse Class = 5
	ClassDouble Class = 6
	ClassSingle Class = 7
	ClassInt8   Class = 8
	ClassUint8  Class = 9
	ClassInt16  Class = 10
	ClassUint16 Class = 11
	ClassInt32  Class = 12
	ClassUint32 Class = 13
	ClassInt64  Class = 14
	ClassUint64 Class = 15
)

// Array is one of *Numeric, *Logical, *Char, *Struct or *Cell.
type Array interface {
	Size() []int
	Class() Class
}

func count(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Numeric is a real numeric matrix stored column major.
type Numeric struct {
	Type  Class
	Shape []int
	Data  []float64
}

// Row returns a 1xN double array.
func Row(values ...float64) *Numeric {
	return &Numeric{Type: ClassDouble, Shape: []int{1, len(values)}, Data: slices.Clone(values)}
}

// Scalar returns a 1x1 double array.
func Scalar(v float64) *Numeric { return Row(v) }

func (n *Numeric) Size() []int  { return n.Shape }
func (n *Numeric) Class() Class { return n.Type }

// Logical is a boolean matrix stored column major.
type Logical struct {
	Shape []int
	Data  []bool
}

func (l *Logical) Size() []int { return l.Shape }
func (*Logical) Class() Class  { return ClassUint8 }

// Char is a character matrix stored column major.
type Char struct {
	Shape []int
	Runes []rune
}

// String returns a 1xN char array.
func String(s string) *Char {
	r := []rune(s)
	return &Char{Shape: []int{1, len(r)}, Runes: r}
}

func (c *Char) Size() []int { return c.Shape }
func (*Char) Class() Class  { return ClassChar }

// Rows returns the rows of the matrix as strings.
func (c *Char) Rows() []string {
	if len(c.Shape) < 2 || c.Shape[0] == 0 {
		return nil
	}
	m := c.Shape[0]
	n := len(c.Runes) / m
	out := make([]string, m)
	for i := range m {
		row := make([]rune, n)
		for j := range n {
			row[j] = c.Runes[i+j*m]
		}
		out[i] = string(row)
	}
	return out
}

// String returns the first row, the usual shape of a MATLAB string.
func (c *Char) String() string {
	rows := c.Rows()
	if len(rows) == 0 {
		return ""
	}
	return rows[0]
}

func (c *Char) utf16() []uint16 {
	return utf16.Encode(c.Runes)
}

// Struct is a struct array. Values holds one slice per element, in Fields
// order.
type Struct struct {
	Shape  []int
	Fields []string
	Values [][]Array
}

// NewStruct returns a 1x1 struct with the given fields, all empty.
func NewStruct(fields ...string) *Struct {
	return &Struct{Shape: []int{1, 1}, Fields: slices.Clone(fields), Values: [][]Array{make([]Array, len(fields))}}
}

func (s *Struct) Size() []int { return s.Shape }
func (*Struct) Class() Class  { return ClassStruct }

// Field returns a field of the first element.
func (s *Struct) Field(name string) (Array, bool) {
	i := slices.Index(s.Fields, name)
	if i < 0 || len(s.Values) == 0 {
		return nil, false
	}
	return s.Values[0][i], s.Values[0][i] != nil
}

// Set sets a field of the first element, adding the field when missing.
func (s *Struct) Set(name string, v Array) {
	if len(s.Values) == 0 {
		s.Shape = []int{1, 1}
		s.Values = [][]Array{nil}
	}
	i := slices.Index(s.Fields, name)
	if i < 0 {
		s.Fields = append(s.Fields, name)
		for e := range s.Values {
			s.Values[e] = append(s.Values[e], nil)
		}
		i = len(s.Fields) - 1
	}
	s.Values[0][i] = v
}

// Cell is a cell array stored column major.
type Cell struct {
	Shape []int
	Elems []Array
}

func (c *Cell) Size() []int { return c.Shape }
func (*Cell) Class() Class  { return ClassCell }

// Var is a named top level array.
type Var struct {
	Name  string
	Value Array
}

// File is the ordered set of variables in a MAT-file.
type File struct {
	// Header is the descriptive text of the file header.
	Header string
	Vars   []Var
}

func (f *File) Get(name string) (Array, bool) {
	for _, v := range f.Vars {
		if v.Name == name {
			return v.Value, true
		}
	}
	return nil, false
}

// Set replaces the variable name or appends it.
func (f *File) Set(name string, value Array) {
	for i, v := range f.Vars {
		if v.Name == name {
			f.Vars[i].Value = value
			return
		}
	}
	f.Vars = append(f.Vars, Var{Name: name, Value: value})
}

// Floats returns the numeric values of name.
func (f *File) Floats(name string) ([]float64, error) {
	a, ok := f.Get(name)
	if !ok {
		return nil, fmt.Errorf("variable %s not found", name)
	}
	n, ok := a.(*Numeric)
	if !ok {
		return nil, fmt.Errorf("variable %s is a %T, not numeric", name, a)
	}
	return n.Data, nil
}

func checkShape(shape []int, n int) error {
	if count(shape) != n {
		return fmt.Errorf("%w: shape %v holds %d values, got %d", ErrFormat, shape, count(shape), n)
	}
	return nil
}
