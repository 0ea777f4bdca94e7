// Package npy reads and writes the NumPy .npy files of a dataset. Uint8
// tensors go through gonpy; unicode string vectors, which gonpy has no
// dtype for, are encoded here (format version 1.0).
package npy

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

const magic = "\x93NUMPY"

var (
	ErrBadHeader     = errors.New("invalid npy header")
	ErrShapeMismatch = errors.New("array data does not match shape")
	ErrUnsupported   = errors.New("unsupported npy dtype")
)

// Array is a decoded .npy file.
type Array struct {
	Descr string
	Shape []int
	Data  []byte
}

// Len is the number of elements implied by the shape.
func (a *Array) Len() int { return product(a.Shape) }

// Strings decodes a <U array of UTF-32LE strings with trailing NULs
// stripped.
func (a *Array) Strings() ([]string, error) {
	width, err := unicodeWidth(a.Descr)
	if err != nil {
		return nil, err
	}
	n := a.Len()
	if len(a.Data) != n*width*4 {
		return nil, fmt.Errorf("%w: %d bytes for %d strings of width %d", ErrShapeMismatch, len(a.Data), n, width)
	}

	out := make([]string, n)
	for i := 0; i < n; i++ {
		var sb strings.Builder
		for j := 0; j < width; j++ {
			off := (i*width + j) * 4
			r := rune(binary.LittleEndian.Uint32(a.Data[off : off+4]))
			if r == 0 {
				break
			}
			sb.WriteRune(r)
		}
		out[i] = sb.String()
	}
	return out, nil
}

// WriteStrings writes values as a 1-D <U array whose width is the longest
// value in runes.
func WriteStrings(w io.Writer, values []string) error {
	width := 1
	for _, v := range values {
		if n := utf8.RuneCountInString(v); n > width {
			width = n
		}
	}
	if err := writeHeader(w, fmt.Sprintf("<U%d", width), []int{len(values)}); err != nil {
		return err
	}

	buf := make([]byte, width*4)
	for _, v := range values {
		clear(buf)
		i := 0
		for _, r := range v {
			binary.LittleEndian.PutUint32(buf[i*4:], uint32(r))
			i++
		}
		if _, err := w.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

func writeHeader(w io.Writer, descr string, shape []int) error {
	dict := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': %s, }", descr, formatShape(shape))

	// magic(6) + version(2) + header length(2) + dict + padding + '\n'
	// must be a multiple of 64
	prefix := len(magic) + 2 + 2
	total := prefix + len(dict) + 1
	pad := (64 - total%64) % 64
	header := dict + strings.Repeat(" ", pad) + "\n"
	if len(header) > 0xffff {
		return fmt.Errorf("%w: header too long", ErrBadHeader)
	}

	var buf bytes.Buffer
	buf.WriteString(magic)
	buf.WriteByte(1)
	buf.WriteByte(0)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(len(header)))
	buf.WriteString(header)
	_, err := w.Write(buf.Bytes())
	return err
}

func formatShape(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = strconv.Itoa(d)
	}
	if len(shape) == 1 {
		return "(" + parts[0] + ",)"
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

var (
	descrRe   = regexp.MustCompile(`'descr'\s*:\s*'([^']*)'`)
	fortranRe = regexp.MustCompile(`'fortran_order'\s*:\s*(True|False)`)
	shapeRe   = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
)

// Read decodes a .npy stream of unicode strings. Only C-ordered arrays
// are supported; use ReadUint8 for tensors.
func Read(r io.Reader) (*Array, error) {
	pre := make([]byte, len(magic)+2)
	if _, err := io.ReadFull(r, pre); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	if string(pre[:len(magic)]) != magic {
		return nil, fmt.Errorf("%w: bad magic", ErrBadHeader)
	}

	var headerLen int
	switch major := pre[len(magic)]; major {
	case 1:
		var n uint16
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
		}
		headerLen = int(n)
	case 2, 3:
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
		}
		headerLen = int(n)
	default:
		return nil, fmt.Errorf("%w: version %d", ErrBadHeader, major)
	}

	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}

	arr, err := parseHeader(string(header))
	if err != nil {
		return nil, err
	}

	width, err := unicodeWidth(arr.Descr)
	if err != nil {
		return nil, err
	}
	arr.Data = make([]byte, arr.Len()*width*4)
	if _, err := io.ReadFull(r, arr.Data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShapeMismatch, err)
	}
	return arr, nil
}

func parseHeader(h string) (*Array, error) {
	m := descrRe.FindStringSubmatch(h)
	if m == nil {
		return nil, fmt.Errorf("%w: missing descr", ErrBadHeader)
	}
	arr := &Array{Descr: m[1]}

	if f := fortranRe.FindStringSubmatch(h); f == nil {
		return nil, fmt.Errorf("%w: missing fortran_order", ErrBadHeader)
	} else if f[1] == "True" {
		return nil, fmt.Errorf("%w: fortran order", ErrUnsupported)
	}

	s := shapeRe.FindStringSubmatch(h)
	if s == nil {
		return nil, fmt.Errorf("%w: missing shape", ErrBadHeader)
	}
	arr.Shape = []int{}
	for _, part := range strings.Split(s[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := strconv.Atoi(strings.TrimSuffix(part, "L"))
		if err != nil || d < 0 {
			return nil, fmt.Errorf("%w: bad dimension %q", ErrBadHeader, part)
		}
		arr.Shape = append(arr.Shape, d)
	}
	return arr, nil
}

func unicodeWidth(descr string) (int, error) {
	if !strings.HasPrefix(descr, "<U") {
		return 0, fmt.Errorf("%w: %s is not a unicode dtype", ErrUnsupported, descr)
	}
	w, err := strconv.Atoi(descr[2:])
	if err != nil || w <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrUnsupported, descr)
	}
	return w, nil
}

func product(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
