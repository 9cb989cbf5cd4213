// Package mda reads and writes the MDA multidimensional array format used for
// timeseries and firings artifacts.
//
// An MDA file is a little-endian header followed by column-major data:
//
//	int32 data type code
//	int32 bytes per entry
//	int32 number of dims (negative: dims are stored as int64)
//	dims...
package mda

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/bits"
	"os"

	"github.com/spachava753/sortbatch/internal/models"
	"github.com/spachava753/sortbatch/internal/util"
)

// DataType is the MDA element type code.
type DataType int32

const (
	Complex64 DataType = -1
	Uint8     DataType = -2
	Float32   DataType = -3
	Int16     DataType = -4
	Int32     DataType = -5
	Uint16    DataType = -6
	Float64   DataType = -7
	Uint32    DataType = -8
)

const maxDims = 50

// Size returns the number of bytes per entry, or 0 for an unknown code.
func (d DataType) Size() int {
	switch d {
	case Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Float32, Int32, Uint32:
		return 4
	case Float64, Complex64:
		return 8
	default:
		return 0
	}
}

func (d DataType) String() string {
	switch d {
	case Complex64:
		return "complex64"
	case Uint8:
		return "uint8"
	case Float32:
		return "float32"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Uint16:
		return "uint16"
	case Float64:
		return "float64"
	case Uint32:
		return "uint32"
	default:
		return fmt.Sprintf("DataType(%d)", int32(d))
	}
}

// Header describes an MDA file's layout.
type Header struct {
	DataType      DataType
	BytesPerEntry int
	Dims          []int64
	HeaderSize    int64
}

// N1 is the first dimension (channels for timeseries, rows for firings).
func (h Header) N1() int64 { return h.dim(0) }

// N2 is the second dimension (samples for timeseries, events for firings).
func (h Header) N2() int64 { return h.dim(1) }

func (h Header) dim(i int) int64 {
	if i < len(h.Dims) {
		return h.Dims[i]
	}
	return 1
}

// NumEntries returns the product of all dims. ReadHeader rejects headers whose
// data size does not fit in an int64.
func (h Header) NumEntries() int64 {
	n := int64(1)
	for _, d := range h.Dims {
		n *= d
	}
	return n
}

// DataSize returns the byte length of the data section.
func (h Header) DataSize() int64 {
	return h.NumEntries() * int64(h.BytesPerEntry)
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", models.ErrArtifactCorrupt, fmt.Sprintf(format, args...))
}

// ReadHeader parses an MDA header from r.
func ReadHeader(r io.Reader) (Header, error) {
	var fixed [3]int32
	if err := binary.Read(r, binary.LittleEndian, &fixed); err != nil {
		return Header{}, corrupt("reading header: %v", err)
	}
	h := Header{DataType: DataType(fixed[0]), BytesPerEntry: int(fixed[1])}
	if h.DataType.Size() == 0 {
		return Header{}, corrupt("unknown data type code %d", fixed[0])
	}
	if h.BytesPerEntry != h.DataType.Size() {
		return Header{}, corrupt("%s entries are %d bytes, header says %d", h.DataType, h.DataType.Size(), h.BytesPerEntry)
	}

	ndims := int(fixed[2])
	wide := ndims < 0
	if wide {
		ndims = -ndims
	}
	if ndims < 1 || ndims > maxDims {
		return Header{}, corrupt("invalid number of dims %d", ndims)
	}

	h.Dims = make([]int64, ndims)
	if wide {
		if err := binary.Read(r, binary.LittleEndian, h.Dims); err != nil {
			return Header{}, corrupt("reading dims: %v", err)
		}
		h.HeaderSize = 12 + 8*int64(ndims)
	} else {
		dims := make([]int32, ndims)
		if err := binary.Read(r, binary.LittleEndian, dims); err != nil {
			return Header{}, corrupt("reading dims: %v", err)
		}
		for i, d := range dims {
			h.Dims[i] = int64(d)
		}
		h.HeaderSize = 12 + 4*int64(ndims)
	}
	n := uint64(1)
	for i, d := range h.Dims {
		if d < 0 {
			return Header{}, corrupt("dim %d is negative (%d)", i, d)
		}
		hi, lo := bits.Mul64(n, uint64(d))
		if hi != 0 || lo > math.MaxInt64 {
			return Header{}, corrupt("dims %v overflow", h.Dims)
		}
		n = lo
	}
	hi, size := bits.Mul64(n, uint64(h.BytesPerEntry))
	if hi != 0 || size > uint64(math.MaxInt64-h.HeaderSize) {
		return Header{}, corrupt("data size of dims %v overflows", h.Dims)
	}
	return h, nil
}

// ReadHeaderFile parses the header of the file at path and checks that the
// file is long enough to hold the data it declares.
func ReadHeaderFile(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, err
	}
	defer f.Close()

	h, err := ReadHeader(f)
	if err != nil {
		return Header{}, fmt.Errorf("%s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		return Header{}, err
	}
	if want := h.HeaderSize + h.DataSize(); info.Size() < want {
		return Header{}, fmt.Errorf("%s: %w", path, corrupt("truncated: %d bytes, header declares %d", info.Size(), want))
	}
	return h, nil
}

// Array is an in-memory MDA array with entries widened to float64, stored in
// column-major order.
type Array struct {
	Dims []int64
	Data []float64
}

// NewArray allocates a zeroed array with the given dims.
func NewArray(dims ...int64) *Array {
	n := int64(1)
	for _, d := range dims {
		n *= d
	}
	return &Array{Dims: dims, Data: make([]float64, n)}
}

// N1 returns the first dimension.
func (a *Array) N1() int64 {
	if len(a.Dims) == 0 {
		return 0
	}
	return a.Dims[0]
}

// N2 returns the second dimension, 1 for a vector.
func (a *Array) N2() int64 {
	if len(a.Dims) < 2 {
		return 1
	}
	return a.Dims[1]
}

// At returns entry (i, j) of a 2D array.
func (a *Array) At(i, j int64) float64 {
	return a.Data[i+j*a.N1()]
}

// Set assigns entry (i, j) of a 2D array.
func (a *Array) Set(i, j int64, v float64) {
	a.Data[i+j*a.N1()] = v
}

// Read parses a complete MDA array. Complex data is not supported.
func Read(r io.Reader) (*Array, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	if h.DataType == Complex64 {
		return nil, fmt.Errorf("reading %s data: unsupported", h.DataType)
	}

	// The header may overstate the data; nothing is sized from it until the
	// bytes are in hand.
	buf, err := io.ReadAll(io.LimitReader(r, h.DataSize()))
	if err != nil {
		return nil, corrupt("reading data: %v", err)
	}
	if int64(len(buf)) < h.DataSize() {
		return nil, corrupt("reading data: got %d bytes, header declares %d", len(buf), h.DataSize())
	}

	n := h.NumEntries()
	a := &Array{Dims: h.Dims, Data: make([]float64, n)}

	le := binary.LittleEndian
	size := int64(h.BytesPerEntry)
	for i := range n {
		b := buf[i*size : (i+1)*size]
		switch h.DataType {
		case Uint8:
			a.Data[i] = float64(b[0])
		case Int16:
			a.Data[i] = float64(int16(le.Uint16(b)))
		case Uint16:
			a.Data[i] = float64(le.Uint16(b))
		case Int32:
			a.Data[i] = float64(int32(le.Uint32(b)))
		case Uint32:
			a.Data[i] = float64(le.Uint32(b))
		case Float32:
			a.Data[i] = float64(math.Float32frombits(le.Uint32(b)))
		case Float64:
			a.Data[i] = math.Float64frombits(le.Uint64(b))
		}
	}
	return a, nil
}

// ReadFile reads the MDA array at path.
func ReadFile(path string) (*Array, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	a, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}

// Write encodes a as dt. Dims are stored as int32 unless one exceeds its range.
func Write(w io.Writer, a *Array, dt DataType) error {
	if dt.Size() == 0 || dt == Complex64 {
		return fmt.Errorf("writing %s data: unsupported", dt)
	}
	ndims := int32(len(a.Dims))
	wide := false
	for _, d := range a.Dims {
		if d > math.MaxInt32 {
			wide = true
		}
	}
	if wide {
		ndims = -ndims
	}

	le := binary.LittleEndian
	if err := binary.Write(w, le, [3]int32{int32(dt), int32(dt.Size()), ndims}); err != nil {
		return err
	}
	if wide {
		if err := binary.Write(w, le, a.Dims); err != nil {
			return err
		}
	} else {
		dims := make([]int32, len(a.Dims))
		for i, d := range a.Dims {
			dims[i] = int32(d)
		}
		if err := binary.Write(w, le, dims); err != nil {
			return err
		}
	}

	b := make([]byte, dt.Size())
	for _, v := range a.Data {
		switch dt {
		case Uint8:
			b[0] = uint8(v)
		case Int16:
			le.PutUint16(b, uint16(int16(v)))
		case Uint16:
			le.PutUint16(b, uint16(v))
		case Int32:
			le.PutUint32(b, uint32(int32(v)))
		case Uint32:
			le.PutUint32(b, uint32(v))
		case Float32:
			le.PutUint32(b, math.Float32bits(float32(v)))
		case Float64:
			le.PutUint64(b, math.Float64bits(v))
		}
		if _, err := w.Write(b); err != nil {
			return err
		}
	}
	return nil
}

// WriteFile atomically writes a to path as dt.
func WriteFile(path string, a *Array, dt DataType) error {
	return util.WriteAtomic(path, 0644, func(w io.Writer) error {
		return Write(w, a, dt)
	})
}
