package npy

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/kshedden/gonpy"
)

// onceCloser lets both gonpy and WriteUint8 close the destination.
type onceCloser struct {
	io.Writer
	c    io.Closer
	once sync.Once
	err  error
}

func (o *onceCloser) Close() error {
	o.once.Do(func() { o.err = o.c.Close() })
	return o.err
}

// WriteUint8 writes data as a C-ordered uint8 array of the given shape
// and closes w.
func WriteUint8(w io.WriteCloser, shape []int, data []uint8) error {
	dst := &onceCloser{Writer: w, c: w}
	if product(shape) != len(data) {
		dst.Close()
		return fmt.Errorf("%w: %d bytes for shape %v", ErrShapeMismatch, len(data), shape)
	}

	wtr, err := gonpy.NewWriter(dst)
	if err != nil {
		dst.Close()
		return err
	}
	wtr.Shape = append([]int(nil), shape...)
	if err := wtr.WriteUint8(data); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// ReadUint8 decodes a uint8 array and returns its shape and data.
func ReadUint8(r io.Reader) ([]int, []uint8, error) {
	rdr, err := gonpy.NewReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	if rdr.ColumnMajor {
		return nil, nil, fmt.Errorf("%w: fortran order", ErrUnsupported)
	}

	data, err := rdr.GetUint8()
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return nil, nil, fmt.Errorf("%w: %v", ErrShapeMismatch, err)
	case err != nil:
		return nil, nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	if len(data) != product(rdr.Shape) {
		return nil, nil, fmt.Errorf("%w: %d bytes for shape %v", ErrShapeMismatch, len(data), rdr.Shape)
	}
	return rdr.Shape, data, nil
}
