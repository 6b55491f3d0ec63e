package ggml

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"slices"
)

// Bounds for header fields read from untrusted files.
const (
	maxNameLength = 1 << 16
	maxElements   = 1 << 32

	// data is read in chunks of at most this many elements so a corrupt
	// header fails at EOF instead of allocating its declared size
	chunkElements = 1 << 20
)

type decoder struct {
	r io.Reader
}

func (d decoder) read(data any) error {
	return binary.Read(d.r, binary.LittleEndian, data)
}

func (d decoder) int32() (int32, error) {
	var v int32
	err := d.read(&v)
	return v, err
}

// tensor reads one tensor record. io.EOF is returned only when the stream
// ends exactly on a record boundary.
func (d decoder) tensor() (Tensor, error) {
	var header struct {
		NumDims int32
		NameLen int32
		DType   int32
	}

	if err := d.read(&header); err != nil {
		return Tensor{}, err
	}

	if header.NumDims < 1 || header.NumDims > MaxDims || header.NameLen < 0 || header.NameLen > maxNameLength {
		return Tensor{}, fmt.Errorf("invalid tensor header: %+v", header)
	}

	if DType(header.DType) != DTypeF32 {
		return Tensor{}, fmt.Errorf("unsupported dtype: %s", DType(header.DType))
	}

	shape := make([]int32, header.NumDims)
	if err := d.read(shape); err != nil {
		return Tensor{}, unexpected(err)
	}
	slices.Reverse(shape)

	name := make([]byte, header.NameLen)
	if _, err := io.ReadFull(d.r, name); err != nil {
		return Tensor{}, unexpected(err)
	}

	t := Tensor{
		Name:  string(name),
		DType: DType(header.DType),
		Shape: make([]int, len(shape)),
	}

	elements := uint64(1)
	for i, n := range shape {
		if n < 0 {
			return Tensor{}, fmt.Errorf("tensor %q: negative dimension %d", t.Name, n)
		}

		if n > 0 && elements > maxElements/uint64(n) {
			return Tensor{}, fmt.Errorf("tensor %q: shape %v exceeds %d elements", t.Name, shape, uint64(maxElements))
		}

		elements *= uint64(n)
		t.Shape[i] = int(n)
	}

	data, err := d.float32s(elements)
	if err != nil {
		return Tensor{}, err
	}

	t.Data = data
	return t, nil
}

func (d decoder) float32s(n uint64) ([]float32, error) {
	data := make([]float32, 0, min(n, chunkElements))
	for uint64(len(data)) < n {
		chunk := make([]float32, min(n-uint64(len(data)), chunkElements))
		if err := d.read(chunk); err != nil {
			return nil, unexpected(err)
		}

		data = append(data, chunk...)
	}

	return data, nil
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// Decode reads a complete converted file: the magic, three
// autoregressive sections and the codec records up to EOF.
func Decode(r io.Reader) (*File, error) {
	d := decoder{bufio.NewReader(r)}

	var magic uint32
	if err := d.read(&magic); err != nil {
		return nil, err
	}

	if magic != FILE_MAGIC_GGML {
		return nil, fmt.Errorf("%w: %#x", ErrInvalidMagic, magic)
	}

	var f File
	for range NumModels {
		var m Model
		if err := d.read(&m.HParams); err != nil {
			return nil, unexpected(err)
		}

		n, err := d.int32()
		if err != nil {
			return nil, unexpected(err)
		}

		if n < 0 {
			return nil, fmt.Errorf("invalid tensor count: %d", n)
		}

		for range n {
			t, err := d.tensor()
			if err != nil {
				return nil, unexpected(err)
			}

			m.Tensors = append(m.Tensors, t)
		}

		f.Models = append(f.Models, m)
	}

	for {
		t, err := d.tensor()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, err
		}

		f.Codec = append(f.Codec, t)
	}

	return &f, nil
}

// DecodeVocab reads the vocabulary side channel written by WriteVocab.
func DecodeVocab(r io.Reader) ([]string, error) {
	d := decoder{bufio.NewReader(r)}

	n, err := d.int32()
	if err != nil {
		return nil, err
	}

	if n < 0 {
		return nil, fmt.Errorf("invalid token count: %d", n)
	}

	tokens := make([]string, 0, min(n, 1<<16))
	for range n {
		size, err := d.int32()
		if err != nil {
			return nil, unexpected(err)
		}

		if size < 0 || size > maxNameLength {
			return nil, fmt.Errorf("invalid token length: %d", size)
		}

		b := make([]byte, size)
		if _, err := io.ReadFull(d.r, b); err != nil {
			return nil, unexpected(err)
		}

		tokens = append(tokens, string(b))
	}

	return tokens, nil
}
