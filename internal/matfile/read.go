package matfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/klauspost/compress/zlib"
)

const (
	miINT8       = 1
	miUINT8      = 2
	miINT16      = 3
	miUINT16     = 4
	miINT32      = 5
	miUINT32     = 6
	miSINGLE     = 7
	miDOUBLE     = 9
	miINT64      = 12
	miUINT64     = 13
	miMATRIX     = 14
	miCOMPRESSED = 15
	miUTF8       = 16
	miUTF16      = 17
	miUTF32      = 18
)

const (
	headerLen    = 128
	headerText   = 116
	version5     = 0x0100
	flagLogical  = 0x0200
	flagGlobal   = 0x0400
	flagComplex  = 0x0800
	classMask    = 0xff
	fieldNameLen = 32
)

// ReadFile reads the MAT-file at path.
func ReadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	out, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}

// Read decodes a level 5 MAT-file.
func Read(r io.Reader) (*File, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(buf) < headerLen {
		return nil, fmt.Errorf("%w: file shorter than header", ErrFormat)
	}
	var d decoder
	switch string(buf[126:128]) {
	case "IM":
		d.order = binary.LittleEndian
	case "MI":
		d.order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: bad endian indicator %q", ErrFormat, buf[126:128])
	}
	if v := d.order.Uint16(buf[124:126]); v != version5 {
		return nil, fmt.Errorf("%w: version 0x%04x", ErrFormat, v)
	}
	out := &File{Header: strings.TrimRight(string(buf[:headerText]), " \x00")}
	if err := d.vars(out, buf[headerLen:]); err != nil {
		return nil, err
	}
	return out, nil
}

type decoder struct {
	order binary.ByteOrder
}

func (d *decoder) vars(out *File, buf []byte) error {
	for len(buf) > 0 {
		typ, data, rest, err := d.element(buf)
		if err != nil {
			return err
		}
		buf = rest
		switch typ {
		case miCOMPRESSED:
			zr, err := zlib.NewReader(bytes.NewReader(data))
			if err != nil {
				return fmt.Errorf("%w: compressed element: %v", ErrFormat, err)
			}
			inner, err := io.ReadAll(zr)
			zr.Close()
			if err != nil {
				return fmt.Errorf("%w: compressed element: %v", ErrFormat, err)
			}
			if err := d.vars(out, inner); err != nil {
				return err
			}
		case miMATRIX:
			name, a, err := d.matrix(data)
			if err != nil {
				return err
			}
			out.Vars = append(out.Vars, Var{Name: name, Value: a})
		default:
			return fmt.Errorf("%w: unexpected top level element type %d", ErrFormat, typ)
		}
	}
	return nil
}

// element splits one data element off buf.
func (d *decoder) element(buf []byte) (typ uint32, data, rest []byte, err error) {
	if len(buf) < 8 {
		return 0, nil, nil, fmt.Errorf("%w: truncated tag", ErrFormat)
	}
	first := d.order.Uint32(buf[0:4])
	if first>>16 != 0 {
		n := first >> 16
		if n > 4 {
			return 0, nil, nil, fmt.Errorf("%w: small element of %d bytes", ErrFormat, n)
		}
		return first & 0xffff, buf[4 : 4+n], buf[8:], nil
	}
	n := uint64(d.order.Uint32(buf[4:8]))
	if 8+n > uint64(len(buf)) {
		return 0, nil, nil, fmt.Errorf("%w: element of %d bytes overruns file", ErrFormat, n)
	}
	end := 8 + n
	if first != miCOMPRESSED {
		end = min(8+pad8(n), uint64(len(buf)))
	}
	return first, buf[8 : 8+n], buf[end:], nil
}

func pad8(n uint64) uint64 { return (n + 7) &^ 7 }

func (d *decoder) matrix(data []byte) (string, Array, error) {
	if len(data) == 0 {
		return "", &Numeric{Type: ClassDouble, Shape: []int{0, 0}}, nil
	}
	typ, flags, data, err := d.element(data)
	if err != nil {
		return "", nil, err
	}
	if typ != miUINT32 || len(flags) < 8 {
		return "", nil, fmt.Errorf("%w: bad array flags", ErrFormat)
	}
	f := d.order.Uint32(flags[0:4])
	class := Class(f & classMask)

	typ, raw, data, err := d.element(data)
	if err != nil {
		return "", nil, err
	}
	if typ != miINT32 {
		return "", nil, fmt.Errorf("%w: dimensions of type %d", ErrFormat, typ)
	}
	dims64, err := d.numbers(typ, raw)
	if err != nil {
		return "", nil, err
	}
	shape := make([]int, len(dims64))
	for i, v := range dims64 {
		shape[i] = int(v)
	}

	typ, raw, data, err = d.element(data)
	if err != nil {
		return "", nil, err
	}
	if typ != miINT8 && typ != miUINT8 {
		return "", nil, fmt.Errorf("%w: array name of type %d", ErrFormat, typ)
	}
	name := string(raw)

	if f&flagComplex != 0 {
		return name, nil, fmt.Errorf("%w: %s is complex", ErrUnsupported, name)
	}

	switch class {
	case ClassCell:
		n := count(shape)
		c := &Cell{Shape: shape, Elems: make([]Array, n)}
		for i := range n {
			var elem []byte
			typ, elem, data, err = d.element(data)
			if err != nil {
				return name, nil, err
			}
			if typ != miMATRIX {
				return name, nil, fmt.Errorf("%w: cell element of type %d", ErrFormat, typ)
			}
			if _, c.Elems[i], err = d.matrix(elem); err != nil {
				return name, nil, err
			}
		}
		return name, c, nil
	case ClassStruct:
		s, err := d.structure(shape, data)
		return name, s, err
	case ClassChar:
		typ, raw, _, err = d.element(data)
		if err != nil {
			return name, nil, err
		}
		runes, err := d.text(typ, raw)
		if err != nil {
			return name, nil, err
		}
		if err := checkShape(shape, len(runes)); err != nil {
			return name, nil, err
		}
		return name, &Char{Shape: shape, Runes: runes}, nil
	case ClassDouble, ClassSingle, ClassInt8, ClassUint8, ClassInt16, ClassUint16,
		ClassInt32, ClassUint32, ClassInt64, ClassUint64:
		typ, raw, _, err = d.element(data)
		if err != nil {
			return name, nil, err
		}
		values, err := d.numbers(typ, raw)
		if err != nil {
			return name, nil, err
		}
		if err := checkShape(shape, len(values)); err != nil {
			return name, nil, err
		}
		if f&flagLogical != 0 {
			l := &Logical{Shape: shape, Data: make([]bool, len(values))}
			for i, v := range values {
				l.Data[i] = v != 0
			}
			return name, l, nil
		}
		return name, &Numeric{Type: class, Shape: shape, Data: values}, nil
	default:
		return name, nil, fmt.Errorf("%w: %s has class %d", ErrUnsupported, name, class)
	}
}

func (d *decoder) structure(shape []int, data []byte) (*Struct, error) {
	typ, raw, data, err := d.element(data)
	if err != nil {
		return nil, err
	}
	if typ != miINT32 || len(raw) != 4 {
		return nil, fmt.Errorf("%w: bad struct field name length", ErrFormat)
	}
	width := int(d.order.Uint32(raw))
	typ, raw, data, err = d.element(data)
	if err != nil {
		return nil, err
	}
	if typ != miINT8 || width == 0 || len(raw)%width != 0 {
		return nil, fmt.Errorf("%w: bad struct field names", ErrFormat)
	}
	s := &Struct{Shape: shape}
	for i := 0; i < len(raw); i += width {
		s.Fields = append(s.Fields, string(bytes.TrimRight(raw[i:i+width], "\x00")))
	}
	n := count(shape)
	s.Values = make([][]Array, n)
	for e := range n {
		s.Values[e] = make([]Array, len(s.Fields))
		for j := range s.Fields {
			var elem []byte
			typ, elem, data, err = d.element(data)
			if err != nil {
				return nil, err
			}
			if typ != miMATRIX {
				return nil, fmt.Errorf("%w: struct field of type %d", ErrFormat, typ)
			}
			if _, s.Values[e][j], err = d.matrix(elem); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

func (d *decoder) text(typ uint32, raw []byte) ([]rune, error) {
	switch typ {
	case miUTF8:
		if !utf8.Valid(raw) {
			return nil, fmt.Errorf("%w: invalid utf-8 text", ErrFormat)
		}
		return []rune(string(raw)), nil
	case miUINT16, miUTF16:
		u := make([]uint16, len(raw)/2)
		for i := range u {
			u[i] = d.order.Uint16(raw[2*i:])
		}
		return utf16.Decode(u), nil
	case miINT8, miUINT8:
		r := make([]rune, len(raw))
		for i, b := range raw {
			r[i] = rune(b)
		}
		return r, nil
	case miUTF32:
		r := make([]rune, len(raw)/4)
		for i := range r {
			r[i] = rune(d.order.Uint32(raw[4*i:]))
		}
		return r, nil
	}
	return nil, fmt.Errorf("%w: text of type %d", ErrFormat, typ)
}

func (d *decoder) numbers(typ uint32, raw []byte) ([]float64, error) {
	size := map[uint32]int{
		miINT8: 1, miUINT8: 1, miINT16: 2, miUINT16: 2, miINT32: 4, miUINT32: 4,
		miSINGLE: 4, miDOUBLE: 8, miINT64: 8, miUINT64: 8,
	}[typ]
	if size == 0 {
		return nil, fmt.Errorf("%w: numeric data of type %d", ErrFormat, typ)
	}
	if len(raw)%size != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrFormat, len(raw), size)
	}
	out := make([]float64, len(raw)/size)
	for i := range out {
		b := raw[i*size:]
		switch typ {
		case miINT8:
			out[i] = float64(int8(b[0]))
		case miUINT8:
			out[i] = float64(b[0])
		case miINT16:
			out[i] = float64(int16(d.order.Uint16(b)))
		case miUINT16:
			out[i] = float64(d.order.Uint16(b))
		case miINT32:
			out[i] = float64(int32(d.order.Uint32(b)))
		case miUINT32:
			out[i] = float64(d.order.Uint32(b))
		case miSINGLE:
			out[i] = float64(math.Float32frombits(d.order.Uint32(b)))
		case miDOUBLE:
			out[i] = math.Float64frombits(d.order.Uint64(b))
		case miINT64:
			out[i] = float64(int64(d.order.Uint64(b)))
		case miUINT64:
			out[i] = float64(d.order.Uint64(b))
		}
	}
	return out, nil
}
