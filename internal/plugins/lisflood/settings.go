package lisflood

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Settings is a LISFLOOD or LISVAP XML settings file. Only the value of
// textvar elements can change; every other byte is written back as read.
type Settings struct {
	data []byte
	vars []*textvar
}

type textvar struct {
	start, end  int64
	attrs       []xml.Attr
	selfClosing bool
	dirty       bool
}

func (v *textvar) attr(name string) (string, bool) {
	for _, a := range v.attrs {
		if a.Name.Space == "" && a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

func (v *textvar) setValue(value string) {
	v.dirty = true
	for i, a := range v.attrs {
		if a.Name.Space == "" && a.Name.Local == "value" {
			v.attrs[i].Value = value
			return
		}
	}
	v.attrs = append(v.attrs, xml.Attr{Name: xml.Name{Local: "value"}, Value: value})
}

func (v *textvar) render() []byte {
	var buf bytes.Buffer
	buf.WriteString("<textvar")
	for _, a := range v.attrs {
		buf.WriteByte(' ')
		if a.Name.Space != "" {
			buf.WriteString(a.Name.Space)
			buf.WriteByte(':')
		}
		buf.WriteString(a.Name.Local)
		buf.WriteString(`="`)
		_ = xml.EscapeText(&buf, []byte(a.Value))
		buf.WriteByte('"')
	}
	if v.selfClosing {
		buf.WriteString(" />")
	} else {
		buf.WriteByte('>')
	}
	return buf.Bytes()
}

// ParseSettings reads the textvar elements of an XML settings document.
func ParseSettings(data []byte) (*Settings, error) {
	d := xml.NewDecoder(bytes.NewReader(data))
	d.CharsetReader = func(label string, input io.Reader) (io.Reader, error) {
		switch strings.ToLower(label) {
		case "us-ascii", "ascii", "iso-8859-1", "latin1", "utf8":
			return input, nil
		}
		return nil, fmt.Errorf("unsupported settings encoding %q", label)
	}
	s := &Settings{data: data}
	for {
		start := d.InputOffset()
		tok, err := d.RawToken()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse settings: %w", err)
		}
		el, ok := tok.(xml.StartElement)
		if !ok || el.Name.Local != "textvar" {
			continue
		}
		end := d.InputOffset()
		s.vars = append(s.vars, &textvar{
			start:       start,
			end:         end,
			attrs:       el.Copy().Attr,
			selfClosing: bytes.HasSuffix(data[start:end], []byte("/>")),
		})
	}
	return s, nil
}

func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	return ParseSettings(data)
}

// Names lists the textvar names in document order.
func (s *Settings) Names() []string {
	out := make([]string, 0, len(s.vars))
	for _, v := range s.vars {
		name, _ := v.attr("name")
		out = append(out, name)
	}
	return out
}

// Value returns the value of the textvar named name.
func (s *Settings) Value(name string) (string, bool) {
	for _, v := range s.vars {
		if n, _ := v.attr("name"); n == name {
			return v.attr("value")
		}
	}
	return "", false
}

// SetMatching sets the value of every textvar whose name contains substr
// and returns how many changed.
func (s *Settings) SetMatching(substr, value string) int {
	n := 0
	for _, v := range s.vars {
		if name, _ := v.attr("name"); strings.Contains(name, substr) {
			v.setValue(value)
			n++
		}
	}
	return n
}

// Bytes returns the document with changed textvar tags re-rendered.
func (s *Settings) Bytes() []byte {
	var buf bytes.Buffer
	var pos int64
	for _, v := range s.vars {
		if !v.dirty {
			continue
		}
		buf.Write(s.data[pos:v.start])
		buf.Write(v.render())
		pos = v.end
	}
	buf.Write(s.data[pos:])
	return buf.Bytes()
}

func (s *Settings) Save(path string) error {
	if err := os.WriteFile(path, s.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}
