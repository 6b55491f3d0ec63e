package convert

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"
)

func floats(n int) []float32 {
	f32s := make([]float32, n)
	for i := range f32s {
		f32s[i] = float32(i)
	}
	return f32s
}

func TestGather(t *testing.T) {
	cases := []struct {
		name string
		pt   *pytorch.Tensor
		want []float32
	}{
		{
			name: "contiguous",
			pt:   &pytorch.Tensor{Size: []int{2, 3}, Stride: []int{3, 1}},
			want: []float32{0, 1, 2, 3, 4, 5},
		},
		{
			name: "transposed",
			pt:   &pytorch.Tensor{Size: []int{3, 2}, Stride: []int{1, 3}},
			want: []float32{0, 3, 1, 4, 2, 5},
		},
		{
			name: "offset",
			pt:   &pytorch.Tensor{Size: []int{2, 2}, Stride: []int{2, 1}, StorageOffset: 4},
			want: []float32{4, 5, 6, 7},
		},
		{
			name: "strided",
			pt:   &pytorch.Tensor{Size: []int{3}, Stride: []int{3}, StorageOffset: 1},
			want: []float32{1, 4, 7},
		},
		{
			name: "scalar",
			pt:   &pytorch.Tensor{StorageOffset: 4},
			want: []float32{4},
		},
		{
			name: "empty",
			pt:   &pytorch.Tensor{Size: []int{0, 3}, Stride: []int{3, 1}},
			want: []float32{},
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, gather(floats(10), tt.pt)); diff != "" {
				t.Errorf("gather mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTorchTensor(t *testing.T) {
	view := func(source pytorch.StorageInterface) *pytorch.Tensor {
		return &pytorch.Tensor{Source: source, Size: []int{2}, Stride: []int{1}}
	}

	cases := []struct {
		name  string
		pt    *pytorch.Tensor
		dtype DType
		want  []float32
	}{
		{"float", view(&pytorch.FloatStorage{Data: []float32{1.5, -2}}), DTypeF32, []float32{1.5, -2}},
		{"half", view(&pytorch.HalfStorage{Data: []float32{1.5, -2}}), DTypeF16, []float32{1.5, -2}},
		{"bfloat", view(&pytorch.BFloat16Storage{Data: []float32{1.5, -2}}), DTypeBF16, []float32{1.5, -2}},
		{"double", view(&pytorch.DoubleStorage{Data: []float64{1.5, -2}}), DTypeF64, []float32{1.5, -2}},
		{"int", view(&pytorch.IntStorage{Data: []int32{3, -4}}), DTypeI32, []float32{3, -4}},
		{"long", view(&pytorch.LongStorage{Data: []int64{3, -4}}), DTypeI64, []float32{3, -4}},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			got, err := torchTensor("x", tt.pt)
			if err != nil {
				t.Fatal(err)
			}

			if got.DType != tt.dtype {
				t.Errorf("got dtype %s, want %s", got.DType, tt.dtype)
			}

			f32s, err := got.Float32s()
			if err != nil {
				t.Fatal(err)
			}

			if diff := cmp.Diff(tt.want, f32s); diff != "" {
				t.Errorf("values mismatch (-want +got):\n%s", diff)
			}
		})
	}

	t.Run("scalar", func(t *testing.T) {
		got, err := torchTensor("inited", &pytorch.Tensor{Source: &pytorch.FloatStorage{Data: floats(6)}, StorageOffset: 4})
		if err != nil {
			t.Fatal(err)
		}

		record, err := got.record("inited", true)
		if err != nil {
			t.Fatal(err)
		}

		if diff := cmp.Diff([]int{1}, record.Shape); diff != "" {
			t.Errorf("shape mismatch (-want +got):\n%s", diff)
		}

		if diff := cmp.Diff([]float32{4}, record.Data); diff != "" {
			t.Errorf("data mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("unsupported", func(t *testing.T) {
		if _, err := torchTensor("x", &pytorch.Tensor{Source: &pytorch.ByteStorage{Data: []uint8{1}}, Size: []int{1}, Stride: []int{1}}); err == nil {
			t.Fatal("expected error")
		}
	})
}

func stateDict(names ...string) *types.OrderedDict {
	d := types.NewOrderedDict()
	for i, name := range names {
		d.Set(name, &pytorch.Tensor{Source: &pytorch.FloatStorage{Data: []float32{float32(i)}}, Size: []int{1}, Stride: []int{1}})
	}
	return d
}

func TestTorchCheckpoint(t *testing.T) {
	t.Run("ordered state dict", func(t *testing.T) {
		c, args, err := torchCheckpoint("encodec.th", stateDict("decoder.b", "decoder.a", "quantizer.c"))
		if err != nil {
			t.Fatal(err)
		}

		if args != nil {
			t.Errorf("expected no model args, got %v", args)
		}

		if diff := cmp.Diff([]string{"decoder.b", "decoder.a", "quantizer.c"}, c.Names()); diff != "" {
			t.Errorf("names mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("model wrapper", func(t *testing.T) {
		modelArgs := types.NewDict()
		modelArgs.Set("n_layer", 2)
		modelArgs.Set("vocab_size", 10)

		top := types.NewDict()
		top.Set("model", stateDict("_orig_mod.transformer.wte.weight", "_orig_mod.lm_head.weight"))
		top.Set("model_args", modelArgs)
		top.Set("iter_num", 1000)

		c, args, err := torchCheckpoint("text_2.pt", top)
		if err != nil {
			t.Fatal(err)
		}

		if diff := cmp.Diff(map[string]any{"n_layer": 2, "vocab_size": 10}, args); diff != "" {
			t.Errorf("args mismatch (-want +got):\n%s", diff)
		}

		if diff := cmp.Diff([]string{"_orig_mod.transformer.wte.weight", "_orig_mod.lm_head.weight"}, c.Names()); diff != "" {
			t.Errorf("names mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("missing model args", func(t *testing.T) {
		top := types.NewDict()
		top.Set("model", stateDict("_orig_mod.transformer.wte.weight"))

		if _, _, err := torchCheckpoint("text_2.pt", top); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("non-tensor entries", func(t *testing.T) {
		d := stateDict("decoder.weight")
		d.Set("version", 2)

		c, _, err := torchCheckpoint("encodec.th", d)
		if err != nil {
			t.Fatal(err)
		}

		if diff := cmp.Diff([]string{"decoder.weight"}, c.Names()); diff != "" {
			t.Errorf("names mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("not a dict", func(t *testing.T) {
		if _, _, err := torchCheckpoint("model.pt", []any{1, 2}); err == nil {
			t.Fatal("expected error")
		}
	})
}
