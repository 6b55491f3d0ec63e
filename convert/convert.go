package convert

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmorganca/barkggml/envconfig"
	"github.com/jmorganca/barkggml/fs/ggml"
)

// Names of the autoregressive sub-models, in file order.
const (
	ModelText   = "text"
	ModelCoarse = "coarse"
	ModelFine   = "fine"
)

var gptModels = []string{ModelText, ModelCoarse, ModelFine}

type GPT struct {
	Config     *Config
	Checkpoint *Checkpoint
}

// Source supplies the checkpoints of a Bark model. Each checkpoint is
// requested once, right before it is converted, so an implementation can
// release it as soon as the next one is requested.
type Source interface {
	GPT(name string) (*GPT, error)
	Codec() (*Checkpoint, error)
}

// Convert writes a ggml file: the magic, the text, coarse and fine models
// and finally the codec. Any error aborts the conversion; the caller owns
// cleaning up the partially written output.
func Convert(w io.Writer, src Source) error {
	gw := ggml.NewWriter(w)
	if err := gw.WriteMagic(); err != nil {
		return err
	}

	for _, name := range gptModels {
		m, err := src.GPT(name)
		if err != nil {
			return fmt.Errorf("%s model: %w", name, err)
		}

		if err := ConvertGPT(gw, m.Config, m.Checkpoint); err != nil {
			return fmt.Errorf("%s model: %w", name, err)
		}

		slog.Info("model converted", "model", name, "tensors", m.Checkpoint.Len())
	}

	c, err := src.Codec()
	if err != nil {
		return fmt.Errorf("codec model: %w", err)
	}

	if err := ConvertCodec(gw, c); err != nil {
		return fmt.Errorf("codec model: %w", err)
	}

	slog.Info("model converted", "model", "codec", "size", gw.Offset())
	return nil
}

// Dir reads Bark checkpoints from ModelPath and the Encodec checkpoint
// from CodecPath. File names come from envconfig.
type Dir struct {
	ModelPath string
	CodecPath string
}

func (d Dir) GPT(name string) (*GPT, error) {
	var file string
	switch name {
	case ModelText:
		file = envconfig.TextCheckpoint
	case ModelCoarse:
		file = envconfig.CoarseCheckpoint
	case ModelFine:
		file = envconfig.FineCheckpoint
	default:
		return nil, fmt.Errorf("unknown model: %s", name)
	}

	c, args, err := load(filepath.Join(d.ModelPath, file))
	if err != nil {
		return nil, err
	}

	if args == nil {
		return nil, fmt.Errorf("%s: no model args", file)
	}

	config, err := DecodeConfig(args)
	if err != nil {
		return nil, err
	}

	return &GPT{Config: config, Checkpoint: c}, nil
}

func (d Dir) Codec() (*Checkpoint, error) {
	c, _, err := load(filepath.Join(d.CodecPath, envconfig.CodecCheckpoint))
	return c, err
}

// load reads a torch or safetensors checkpoint. Safetensors files carry no
// model args; they are read from a JSON file of the same base name when
// present.
func load(p string) (*Checkpoint, map[string]any, error) {
	slog.Debug("loading checkpoint", "path", p)

	ext := filepath.Ext(p)
	if ext != ".safetensors" {
		return LoadTorch(p)
	}

	c, err := LoadSafetensors(p)
	if err != nil {
		return nil, nil, err
	}

	bts, err := os.ReadFile(strings.TrimSuffix(p, ext) + ".json")
	if os.IsNotExist(err) {
		return c, nil, nil
	} else if err != nil {
		return nil, nil, err
	}

	var args map[string]any
	if err := json.Unmarshal(bts, &args); err != nil {
		return nil, nil, err
	}

	return c, args, nil
}

// ConvertModel converts the checkpoints found in dirModel and codecPath
// into w.
func ConvertModel(dirModel, codecPath string, w io.Writer) error {
	return Convert(w, Dir{ModelPath: dirModel, CodecPath: codecPath})
}
