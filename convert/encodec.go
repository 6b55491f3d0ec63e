package convert

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmorganca/barkggml/fs/ggml"
	"github.com/jmorganca/barkggml/logutil"
)

// Bark only runs the quantizer and the decoder of Encodec.
const encoderMarker = "encoder."

const (
	weightMagnitude = "weight_g"
	weightDirection = "weight_v"
)

var ErrMissingMagnitude = errors.New("missing weight_g for weight_v")

// codecEntry is one record to emit. g is set for weight normalized
// convolutions, in which case Tensor is the direction.
type codecEntry struct {
	name string
	Tensor
	g *Tensor
}

func splitLeaf(name string) (base, leaf string) {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

func joinLeaf(base, leaf string) string {
	if base == "" {
		return leaf
	}
	return base + "." + leaf
}

// planCodec groups the codec checkpoint into plain tensors and weight
// norm pairs, dropping the encoder. Entries keep checkpoint order; a pair
// takes the position of its direction tensor.
func planCodec(c *Checkpoint) ([]codecEntry, error) {
	var entries []codecEntry
	for t := range c.All() {
		if strings.Contains(t.Name, encoderMarker) {
			continue
		}

		base, leaf := splitLeaf(t.Name)
		switch leaf {
		case weightMagnitude:
			if _, ok := c.Get(joinLeaf(base, weightDirection)); !ok {
				slog.Debug("skipping weight_g without weight_v", "name", t.Name)
			}
		case weightDirection:
			g, ok := c.Get(joinLeaf(base, weightMagnitude))
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrMissingMagnitude, t.Name)
			}

			entries = append(entries, codecEntry{name: joinLeaf(base, "weight"), Tensor: t, g: &g})
		default:
			entries = append(entries, codecEntry{name: t.Name, Tensor: t})
		}
	}

	return entries, nil
}

func (e codecEntry) record() (ggml.Tensor, error) {
	if e.g == nil {
		return e.Tensor.record(e.name, true)
	}

	v, err := e.float32s()
	if err != nil {
		return ggml.Tensor{}, err
	}

	g, err := e.g.float32s()
	if err != nil {
		return ggml.Tensor{}, err
	}

	data, err := weightNorm(v, e.Shape, g)
	if err != nil {
		return ggml.Tensor{}, fmt.Errorf("%s: %w", e.Name, err)
	}

	// convolution kernels keep their full rank
	t := NewTensor(e.name, e.Shape, data)
	return t.record(e.name, false)
}

// ConvertCodec writes the quantizer and decoder tensors of an Encodec
// checkpoint. Records are not preceded by a count.
func ConvertCodec(w *ggml.Writer, c *Checkpoint) error {
	entries, err := planCodec(c)
	if err != nil {
		return err
	}

	for _, e := range entries {
		t, err := e.record()
		if err != nil {
			return err
		}

		slog.Debug("processing tensor", "name", t.Name, "shape", t.Shape)
		logutil.Trace("writing tensor", "name", t.Name, "offset", w.Offset(), "size", t.Size())
		if err := w.WriteTensor(t); err != nil {
			return err
		}
	}

	return nil
}
