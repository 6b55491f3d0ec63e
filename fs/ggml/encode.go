package ggml

import (
	"encoding/binary"
	"io"
	"slices"
)

// Writer appends ggml records to an underlying stream. Records are
// self-contained; nothing already written is ever revisited.
type Writer struct {
	w io.Writer
	n int64
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Offset reports the number of bytes written so far.
func (w *Writer) Offset() int64 {
	return w.n
}

func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.n += int64(n)
	return n, err
}

func (w *Writer) write(data any) error {
	return binary.Write(w, binary.LittleEndian, data)
}

// WriteMagic writes the file magic. It must be the first thing written.
func (w *Writer) WriteMagic() error {
	return w.write(uint32(FILE_MAGIC_GGML))
}

func (w *Writer) WriteInt32(v int32) error {
	return w.write(v)
}

func (w *Writer) WriteHParams(hp HParams) error {
	return w.write(hp)
}

// WriteTensor writes n_dims, name length, dtype, the reversed shape, the
// name bytes and finally the data, with no padding in between.
func (w *Writer) WriteTensor(t Tensor) error {
	if err := t.validate(); err != nil {
		return err
	}

	shape := make([]int32, len(t.Shape))
	for i, n := range t.Shape {
		shape[i] = int32(n)
	}
	slices.Reverse(shape)

	for _, v := range []any{
		int32(len(shape)),
		int32(len(t.Name)),
		int32(t.DType),
		shape,
		[]byte(t.Name),
		t.Data,
	} {
		if err := w.write(v); err != nil {
			return err
		}
	}

	return nil
}

// WriteVocab writes the vocabulary side channel: the token count followed
// by each token as a length prefixed byte string. Tokens must already be
// ordered by id.
func (w *Writer) WriteVocab(tokens []string) error {
	if err := w.WriteInt32(int32(len(tokens))); err != nil {
		return err
	}

	for _, token := range tokens {
		if err := w.WriteInt32(int32(len(token))); err != nil {
			return err
		}

		if _, err := io.WriteString(w, token); err != nil {
			return err
		}
	}

	return nil
}
