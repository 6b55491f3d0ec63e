package ggml

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// Magic constant for `ggml` files (unversioned).
	FILE_MAGIC_GGML = 0x67676d6c
)

// DType is the element type tag written in every tensor record.
type DType int32

const (
	DTypeF32 DType = iota
)

func (t DType) String() string {
	switch t {
	case DTypeF32:
		return "F32"
	default:
		return fmt.Sprintf("DType(%d)", int32(t))
	}
}

var ErrInvalidMagic = errors.New("invalid file magic")

// MaxDims is the highest tensor rank the runtime loads.
const MaxDims = 4

// HParams is the fixed layout hyperparameter block that precedes the
// tensors of each autoregressive sub-model. Field order and width are
// part of the file format.
type HParams struct {
	NumLayer        int32
	NumHead         int32
	NumEmbd         int32
	BlockSize       int32
	InputVocabSize  int32
	OutputVocabSize int32
	NumLMHeads      int32
	NumWTEs         int32
}

// Tensor is a single tensor record. Shape is kept in the source order;
// the encoder reverses it on the wire and the decoder restores it.
type Tensor struct {
	Name  string
	DType DType
	Shape []int
	Data  []float32
}

func (t Tensor) Elements() uint64 {
	count := uint64(1)
	for _, n := range t.Shape {
		count *= uint64(n)
	}
	return count
}

func (t Tensor) Size() uint64 {
	return t.Elements() * 4
}

func (t Tensor) String() string {
	dims := make([]string, len(t.Shape))
	for i, n := range t.Shape {
		dims[i] = fmt.Sprint(n)
	}
	return fmt.Sprintf("%s [%s] %s", t.Name, strings.Join(dims, " "), t.DType)
}

func (t Tensor) validate() error {
	if len(t.Shape) == 0 {
		return fmt.Errorf("tensor %q: empty shape", t.Name)
	}

	if len(t.Shape) > MaxDims {
		return fmt.Errorf("tensor %q: %d dimensions, at most %d are supported", t.Name, len(t.Shape), MaxDims)
	}

	if strings.ContainsRune(t.Name, 0) {
		return fmt.Errorf("tensor %q: name contains NUL", t.Name)
	}

	if got, want := uint64(len(t.Data)), t.Elements(); got != want {
		return fmt.Errorf("tensor %q: %d elements for shape %v, want %d", t.Name, got, t.Shape, want)
	}

	return nil
}

// Model is one autoregressive section of a decoded file.
type Model struct {
	HParams
	Tensors []Tensor
}

// File is the decoded content of a converted Bark checkpoint.
type File struct {
	Models []Model
	Codec  []Tensor
}

// NumModels is the number of autoregressive sections in a file: text,
// coarse and fine, in that order.
const NumModels = 3
