package convert

import (
	"errors"
	"fmt"
	"math"
	"reflect"

	"github.com/mitchellh/mapstructure"

	"github.com/jmorganca/barkggml/fs/ggml"
)

var (
	ErrMissingHParam = errors.New("missing hyperparameter")
	ErrVocabSize     = errors.New("neither vocab_size nor input_vocab_size/output_vocab_size is set")
	ErrInvalidHParam = errors.New("invalid hyperparameter")
)

// Config holds the model arguments stored alongside a GPT checkpoint.
// Fields are pointers so that absent keys can be told apart from zero.
type Config struct {
	NumLayer  *int32 `mapstructure:"n_layer"`
	NumHead   *int32 `mapstructure:"n_head"`
	NumEmbd   *int32 `mapstructure:"n_embd"`
	BlockSize *int32 `mapstructure:"block_size"`

	// text and coarse models use a single vocabulary size, newer
	// checkpoints split it into input and output sizes
	VocabSize       *int32 `mapstructure:"vocab_size"`
	InputVocabSize  *int32 `mapstructure:"input_vocab_size"`
	OutputVocabSize *int32 `mapstructure:"output_vocab_size"`

	// fine model only
	NumCodesTotal *int32 `mapstructure:"n_codes_total"`
	NumCodesGiven *int32 `mapstructure:"n_codes_given"`
}

// DecodeConfig decodes model arguments as loaded from a checkpoint.
// Unknown keys such as dropout or bias are ignored.
func DecodeConfig(args map[string]any) (*Config, error) {
	var c Config
	var rangeErr error
	d, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &c,
		WeaklyTypedInput: true,
		DecodeHook: func(from, to reflect.Type, data any) (any, error) {
			if err := int32Range(to, data); err != nil {
				if rangeErr == nil {
					rangeErr = err
				}
				return nil, err
			}
			return data, nil
		},
	})
	if err != nil {
		return nil, err
	}

	if err := d.Decode(args); err != nil {
		// mapstructure flattens hook errors into strings
		if rangeErr != nil {
			return nil, fmt.Errorf("model args: %w", rangeErr)
		}
		return nil, fmt.Errorf("model args: %w", err)
	}

	return &c, nil
}

// int32Range rejects numbers that would not survive conversion to an
// int32 field. Weakly typed decoding would otherwise wrap them silently.
func int32Range(to reflect.Type, data any) error {
	if to.Kind() != reflect.Int32 {
		return nil
	}

	v := reflect.ValueOf(data)
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if n := v.Int(); n < math.MinInt32 || n > math.MaxInt32 {
			return fmt.Errorf("%w: %d overflows int32", ErrInvalidHParam, n)
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if n := v.Uint(); n > math.MaxInt32 {
			return fmt.Errorf("%w: %d overflows int32", ErrInvalidHParam, n)
		}
	case reflect.Float32, reflect.Float64:
		if f := v.Float(); math.IsNaN(f) || f < math.MinInt32 || f > math.MaxInt32 || f != math.Trunc(f) {
			return fmt.Errorf("%w: %v is not an int32", ErrInvalidHParam, f)
		}
	}

	return nil
}

// HParams maps the config to the fixed hyperparameter block.
func (c Config) HParams() (ggml.HParams, error) {
	var hp ggml.HParams
	for _, f := range []struct {
		key string
		src *int32
		dst *int32
	}{
		{"n_layer", c.NumLayer, &hp.NumLayer},
		{"n_head", c.NumHead, &hp.NumHead},
		{"n_embd", c.NumEmbd, &hp.NumEmbd},
		{"block_size", c.BlockSize, &hp.BlockSize},
	} {
		if f.src == nil {
			return ggml.HParams{}, fmt.Errorf("%w: %s", ErrMissingHParam, f.key)
		}
		*f.dst = *f.src
	}

	switch {
	case c.VocabSize != nil:
		hp.InputVocabSize, hp.OutputVocabSize = *c.VocabSize, *c.VocabSize
	case c.InputVocabSize != nil && c.OutputVocabSize != nil:
		hp.InputVocabSize, hp.OutputVocabSize = *c.InputVocabSize, *c.OutputVocabSize
	default:
		return ggml.HParams{}, ErrVocabSize
	}

	hp.NumLMHeads, hp.NumWTEs = 1, 1
	if c.NumCodesTotal != nil && c.NumCodesGiven != nil {
		hp.NumLMHeads = *c.NumCodesTotal - *c.NumCodesGiven
		hp.NumWTEs = *c.NumCodesTotal
	}

	return hp, nil
}
