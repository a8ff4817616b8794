package matfile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zlib"
)

// WriteOptions controls Write.
type WriteOptions struct {
	// Compress stores each variable as a zlib compressed element.
	Compress bool
	// Now stamps the header. Zero means time.Now.
	Now time.Time
}

// WriteFile writes f to path through a temporary file in the same
// directory.
func WriteFile(path string, f *File, opts WriteOptions) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".mat-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if err := Write(tmp, f, opts); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Write encodes f as a little endian level 5 MAT-file.
func Write(w io.Writer, f *File, opts WriteOptions) error {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	text := f.Header
	if text == "" {
		text = "MATLAB 5.0 MAT-file, Platform: GLNXA64, Created on: " + now.Format("Mon Jan _2 15:04:05 2006")
	}
	var hdr [headerLen]byte
	for i := range headerText {
		hdr[i] = ' '
	}
	copy(hdr[:headerText], text)
	binary.LittleEndian.PutUint16(hdr[124:], version5)
	copy(hdr[126:], "IM")
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}

	e := encoder{order: binary.LittleEndian}
	for _, v := range f.Vars {
		var elem bytes.Buffer
		if err := e.matrix(&elem, v.Name, v.Value); err != nil {
			return fmt.Errorf("variable %s: %w", v.Name, err)
		}
		if !opts.Compress {
			if _, err := w.Write(elem.Bytes()); err != nil {
				return err
			}
			continue
		}
		var z bytes.Buffer
		zw := zlib.NewWriter(&z)
		if _, err := zw.Write(elem.Bytes()); err != nil {
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}
		var tag [8]byte
		e.order.PutUint32(tag[0:], miCOMPRESSED)
		e.order.PutUint32(tag[4:], uint32(z.Len()))
		if _, err := w.Write(tag[:]); err != nil {
			return err
		}
		if _, err := w.Write(z.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

type encoder struct {
	order binary.ByteOrder
}

func (e *encoder) element(buf *bytes.Buffer, typ uint32, data []byte) {
	var tag [8]byte
	if len(data) <= 4 && typ != miMATRIX {
		e.order.PutUint32(tag[0:], uint32(len(data))<<16|typ)
		copy(tag[4:], data)
		buf.Write(tag[:])
		return
	}
	e.order.PutUint32(tag[0:], typ)
	e.order.PutUint32(tag[4:], uint32(len(data)))
	buf.Write(tag[:])
	buf.Write(data)
	if n := pad8(uint64(len(data))) - uint64(len(data)); n > 0 {
		buf.Write(make([]byte, n))
	}
}

func (e *encoder) int32s(values ...int) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		e.order.PutUint32(out[4*i:], uint32(int32(v)))
	}
	return out
}

func (e *encoder) matrix(buf *bytes.Buffer, name string, a Array) error {
	if a == nil {
		a = &Numeric{Type: ClassDouble, Shape: []int{0, 0}}
	}
	shape := a.Size()
	if len(shape) < 2 {
		return fmt.Errorf("%w: shape %v has fewer than 2 dimensions", ErrFormat, shape)
	}
	var body bytes.Buffer
	flags := uint32(a.Class())
	if _, ok := a.(*Logical); ok {
		flags |= flagLogical
	}
	e.element(&body, miUINT32, append(e.int32s(int(flags)), 0, 0, 0, 0))
	e.element(&body, miINT32, e.int32s(shape...))
	e.element(&body, miINT8, []byte(name))

	switch x := a.(type) {
	case *Numeric:
		if err := checkShape(x.Shape, len(x.Data)); err != nil {
			return err
		}
		typ, data, err := e.numbers(x.Type, x.Data)
		if err != nil {
			return err
		}
		e.element(&body, typ, data)
	case *Logical:
		if err := checkShape(x.Shape, len(x.Data)); err != nil {
			return err
		}
		data := make([]byte, len(x.Data))
		for i, v := range x.Data {
			if v {
				data[i] = 1
			}
		}
		e.element(&body, miUINT8, data)
	case *Char:
		if err := checkShape(x.Shape, len(x.Runes)); err != nil {
			return err
		}
		u := x.utf16()
		if len(u) != len(x.Runes) {
			return fmt.Errorf("%w: characters outside the basic multilingual plane", ErrUnsupported)
		}
		data := make([]byte, 2*len(u))
		for i, c := range u {
			e.order.PutUint16(data[2*i:], c)
		}
		e.element(&body, miUINT16, data)
	case *Cell:
		if err := checkShape(x.Shape, len(x.Elems)); err != nil {
			return err
		}
		for _, elem := range x.Elems {
			if err := e.matrix(&body, "", elem); err != nil {
				return err
			}
		}
	case *Struct:
		if err := checkShape(x.Shape, len(x.Values)); err != nil {
			return err
		}
		names := make([]byte, fieldNameLen*len(x.Fields))
		for i, f := range x.Fields {
			if len(f) >= fieldNameLen {
				return fmt.Errorf("%w: field name %q longer than %d", ErrUnsupported, f, fieldNameLen-1)
			}
			copy(names[i*fieldNameLen:], f)
		}
		e.element(&body, miINT32, e.int32s(fieldNameLen))
		e.element(&body, miINT8, names)
		for _, values := range x.Values {
			if len(values) != len(x.Fields) {
				return fmt.Errorf("%w: struct element has %d values for %d fields", ErrFormat, len(values), len(x.Fields))
			}
			for _, v := range values {
				if err := e.matrix(&body, "", v); err != nil {
					return err
				}
			}
		}
	default:
		return fmt.Errorf("%w: %T", ErrUnsupported, a)
	}
	e.element(buf, miMATRIX, body.Bytes())
	return nil
}

func (e *encoder) numbers(class Class, values []float64) (uint32, []byte, error) {
	var typ uint32
	var size int
	switch class {
	case ClassDouble:
		typ, size = miDOUBLE, 8
	case ClassSingle:
		typ, size = miSINGLE, 4
	case ClassInt8:
		typ, size = miINT8, 1
	case ClassUint8:
		typ, size = miUINT8, 1
	case ClassInt16:
		typ, size = miINT16, 2
	case ClassUint16:
		typ, size = miUINT16, 2
	case ClassInt32:
		typ, size = miINT32, 4
	case ClassUint32:
		typ, size = miUINT32, 4
	case ClassInt64:
		typ, size = miINT64, 8
	case ClassUint64:
		typ, size = miUINT64, 8
	default:
		return 0, nil, fmt.Errorf("%w: numeric class %d", ErrUnsupported, class)
	}
	out := make([]byte, size*len(values))
	for i, v := range values {
		b := out[i*size:]
		switch typ {
		case miDOUBLE:
			e.order.PutUint64(b, math.Float64bits(v))
		case miSINGLE:
			e.order.PutUint32(b, math.Float32bits(float32(v)))
		case miINT8:
			b[0] = byte(int8(v))
		case miUINT8:
			b[0] = byte(v)
		case miINT16:
			e.order.PutUint16(b, uint16(int16(v)))
		case miUINT16:
			e.order.PutUint16(b, uint16(v))
		case miINT32:
			e.order.PutUint32(b, uint32(int32(v)))
		case miUINT32:
			e.order.PutUint32(b, uint32(v))
		case miINT64:
			e.order.PutUint64(b, uint64(int64(v)))
		case miUINT64:
			e.order.PutUint64(b, uint64(v))
		}
	}
	return typ, out, nil
}
