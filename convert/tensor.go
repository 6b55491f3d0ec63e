package convert

import (
	"encoding/binary"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"slices"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"

	"github.com/jmorganca/barkggml/fs/ggml"
)

// DType names the element type of a source tensor. Names follow the
// safetensors convention.
type DType string

const (
	DTypeF32  DType = "F32"
	DTypeF16  DType = "F16"
	DTypeBF16 DType = "BF16"
	DTypeF64  DType = "F64"
	DTypeI32  DType = "I32"
	DTypeI64  DType = "I64"
)

func (t DType) size() int {
	switch t {
	case DTypeF16, DTypeBF16:
		return 2
	case DTypeF32, DTypeI32:
		return 4
	case DTypeF64, DTypeI64:
		return 8
	default:
		return 0
	}
}

// Tensor is a source tensor: a name, a shape in the source dimension
// order and little endian row-major data of the given dtype.
type Tensor struct {
	Name  string
	Shape []int
	DType DType

	data []byte
}

func newTensor(name string, shape []int, dtype DType, data []byte) (Tensor, error) {
	t := Tensor{Name: name, Shape: shape, DType: dtype, data: data}
	if dtype.size() == 0 {
		return Tensor{}, fmt.Errorf("%s: unknown data type: %s", name, dtype)
	}

	if got, want := len(data), t.Elements()*dtype.size(); got != want {
		return Tensor{}, fmt.Errorf("%s: %d bytes of %s for shape %v, want %d", name, got, dtype, shape, want)
	}

	return t, nil
}

// NewTensor returns a float32 tensor backed by a copy of data.
func NewTensor(name string, shape []int, data []float32) Tensor {
	b, err := binary.Append(nil, binary.LittleEndian, data)
	if err != nil {
		panic(err)
	}

	t, err := newTensor(name, slices.Clone(shape), DTypeF32, b)
	if err != nil {
		panic(err)
	}

	return t
}

func (t Tensor) Elements() int {
	n := 1
	for _, dim := range t.Shape {
		n *= dim
	}
	return n
}

// Float32s returns the tensor data cast to float32.
func (t Tensor) Float32s() ([]float32, error) {
	f32s := make([]float32, t.Elements())
	switch t.DType {
	case DTypeF32:
		for i := range f32s {
			f32s[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.data[i*4:]))
		}
	case DTypeF16:
		for i := range f32s {
			f32s[i] = float16.Frombits(binary.LittleEndian.Uint16(t.data[i*2:])).Float32()
		}
	case DTypeBF16:
		f32s = bfloat16.DecodeFloat32(t.data)
	case DTypeF64:
		for i := range f32s {
			f32s[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(t.data[i*8:])))
		}
	case DTypeI32:
		for i := range f32s {
			f32s[i] = float32(int32(binary.LittleEndian.Uint32(t.data[i*4:])))
		}
	case DTypeI64:
		for i := range f32s {
			f32s[i] = float32(int64(binary.LittleEndian.Uint64(t.data[i*8:])))
		}
	default:
		return nil, fmt.Errorf("%s: unknown data type: %s", t.Name, t.DType)
	}

	return f32s, nil
}

// float32s is Float32s with the cast diagnostic.
func (t Tensor) float32s() ([]float32, error) {
	if t.DType != DTypeF32 {
		slog.Debug("converting to float32", "name", t.Name, "dtype", t.DType)
	}

	return t.Float32s()
}

// squeeze drops size 1 dimensions. The result always keeps at least one
// dimension.
func squeeze(shape []int) []int {
	out := slices.DeleteFunc(slices.Clone(shape), func(n int) bool { return n == 1 })
	if len(out) == 0 {
		return []int{1}
	}
	return out
}

// record builds the output record for t under name.
func (t Tensor) record(name string, squeezed bool) (ggml.Tensor, error) {
	data, err := t.float32s()
	if err != nil {
		return ggml.Tensor{}, err
	}

	shape := slices.Clone(t.Shape)
	if len(shape) == 0 {
		shape = []int{1}
	}

	if squeezed {
		shape = squeeze(shape)
	}

	return ggml.Tensor{Name: name, DType: ggml.DTypeF32, Shape: shape, Data: data}, nil
}

// Checkpoint is an ordered mapping from parameter name to tensor.
type Checkpoint struct {
	names   []string
	tensors map[string]Tensor
}

func NewCheckpoint(ts ...Tensor) (*Checkpoint, error) {
	c := &Checkpoint{tensors: make(map[string]Tensor, len(ts))}
	for _, t := range ts {
		if err := c.Add(t); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func (c *Checkpoint) Add(t Tensor) error {
	if c.tensors == nil {
		c.tensors = make(map[string]Tensor)
	}

	if _, ok := c.tensors[t.Name]; ok {
		return fmt.Errorf("duplicate tensor name '%s' was found for this model", t.Name)
	}

	c.names = append(c.names, t.Name)
	c.tensors[t.Name] = t
	return nil
}

func (c *Checkpoint) Get(name string) (Tensor, bool) {
	t, ok := c.tensors[name]
	return t, ok
}

func (c *Checkpoint) Len() int {
	return len(c.names)
}

// Names returns the tensor names in checkpoint order.
func (c *Checkpoint) Names() []string {
	return slices.Clone(c.names)
}

// All yields the tensors in checkpoint order.
func (c *Checkpoint) All() iter.Seq[Tensor] {
	return func(yield func(Tensor) bool) {
		for _, name := range c.names {
			if !yield(c.tensors[name]) {
				return
			}
		}
	}
}
