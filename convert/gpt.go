package convert

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmorganca/barkggml/envconfig"
	"github.com/jmorganca/barkggml/fs/ggml"
	"github.com/jmorganca/barkggml/logutil"
)

var ErrUnmatchedName = errors.New("unrecognized tensor name")

type gptEntry struct {
	name string
	Tensor
}

// planGPT normalizes every name in the checkpoint before anything is
// written so that naming conflicts abort the run on an untouched stream.
func planGPT(c *Checkpoint) ([]gptEntry, error) {
	entries := make([]gptEntry, 0, c.Len())
	seen := make(map[string]string, c.Len())
	for t := range c.All() {
		name, ok := normalizeName(t.Name)
		if !ok {
			if envconfig.StrictNames {
				return nil, fmt.Errorf("%w: %s", ErrUnmatchedName, t.Name)
			}
			slog.Warn("unrecognized tensor name, keeping source name", "name", t.Name)
		}

		if prev, ok := seen[name]; ok {
			return nil, fmt.Errorf("tensors '%s' and '%s' both map to '%s'", prev, t.Name, name)
		}
		seen[name] = t.Name

		entries = append(entries, gptEntry{name: name, Tensor: t})
	}

	return entries, nil
}

// ConvertGPT writes one autoregressive sub-model: its hyperparameter
// block, the tensor count and a record per checkpoint tensor, in
// checkpoint order.
func ConvertGPT(w *ggml.Writer, config *Config, c *Checkpoint) error {
	hp, err := config.HParams()
	if err != nil {
		return err
	}

	entries, err := planGPT(c)
	if err != nil {
		return err
	}

	if err := w.WriteHParams(hp); err != nil {
		return err
	}

	if err := w.WriteInt32(int32(len(entries))); err != nil {
		return err
	}

	for _, e := range entries {
		t, err := e.record(e.name, true)
		if err != nil {
			return err
		}

		slog.Debug("processing tensor", "name", e.Name, "shape", t.Shape)
		logutil.Trace("writing tensor", "name", t.Name, "offset", w.Offset(), "size", t.Size())
		if err := w.WriteTensor(t); err != nil {
			return err
		}
	}

	return nil
}
