package convert

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"
	"github.com/x448/float16"
)

type pickleItem struct {
	key   any
	value any
}

// pickleItems lists the entries of a pickled dict in insertion order.
func pickleItems(v any) ([]pickleItem, bool) {
	var items []pickleItem
	switch d := v.(type) {
	case *types.Dict:
		for _, k := range d.Keys() {
			items = append(items, pickleItem{k, d.MustGet(k)})
		}
	case *types.OrderedDict:
		for e := d.List.Front(); e != nil; e = e.Next() {
			entry := e.Value.(*types.OrderedDictEntry)
			items = append(items, pickleItem{entry.Key, entry.Value})
		}
	default:
		return nil, false
	}

	return items, true
}

func pickleMap(v any) (map[string]any, bool) {
	items, ok := pickleItems(v)
	if !ok {
		return nil, false
	}

	m := make(map[string]any, len(items))
	for _, item := range items {
		if k, ok := item.key.(string); ok {
			m[k] = item.value
		}
	}

	return m, true
}

// LoadTorch reads a pickled torch checkpoint. Bark GPT checkpoints wrap
// the state dict under "model" next to the "model_args" used to build
// the model; any other file is treated as a bare state dict and args is
// nil.
func LoadTorch(p string) (*Checkpoint, map[string]any, error) {
	pt, err := pytorch.Load(p)
	if err != nil {
		return nil, nil, err
	}

	return torchCheckpoint(p, pt)
}

func torchCheckpoint(p string, pt any) (*Checkpoint, map[string]any, error) {
	var args map[string]any
	if top, ok := pickleMap(pt); ok {
		if model, ok := top["model"]; ok {
			pt = model
			if args, ok = pickleMap(top["model_args"]); !ok {
				return nil, nil, fmt.Errorf("%s: missing model_args", p)
			}
		}
	}

	items, ok := pickleItems(pt)
	if !ok {
		return nil, nil, fmt.Errorf("%s: unexpected checkpoint type %T", p, pt)
	}

	var c Checkpoint
	for _, item := range items {
		name, ok := item.key.(string)
		if !ok {
			return nil, nil, fmt.Errorf("%s: unexpected key type %T", p, item.key)
		}

		tt, ok := item.value.(*pytorch.Tensor)
		if !ok {
			slog.Debug("skipping non-tensor entry", "name", name, "type", fmt.Sprintf("%T", item.value))
			continue
		}

		t, err := torchTensor(name, tt)
		if err != nil {
			return nil, nil, err
		}

		if err := c.Add(t); err != nil {
			return nil, nil, err
		}
	}

	return &c, args, nil
}

func torchTensor(name string, pt *pytorch.Tensor) (Tensor, error) {
	var (
		dtype DType
		data  []byte
		err   error
	)

	switch s := pt.Source.(type) {
	case *pytorch.FloatStorage:
		dtype = DTypeF32
		data, err = binary.Append(nil, binary.LittleEndian, gather(s.Data, pt))
	case *pytorch.HalfStorage:
		// gopickle widens half storages, narrow them back so the
		// tensor reports its real dtype. The same applies to bfloat16.
		f32s := gather(s.Data, pt)
		u16s := make([]uint16, len(f32s))
		for i := range f32s {
			u16s[i] = float16.Fromfloat32(f32s[i]).Bits()
		}
		dtype = DTypeF16
		data, err = binary.Append(nil, binary.LittleEndian, u16s)
	case *pytorch.BFloat16Storage:
		f32s := gather(s.Data, pt)
		u16s := make([]uint16, len(f32s))
		for i := range f32s {
			u16s[i] = uint16(math.Float32bits(f32s[i]) >> 16)
		}
		dtype = DTypeBF16
		data, err = binary.Append(nil, binary.LittleEndian, u16s)
	case *pytorch.DoubleStorage:
		dtype = DTypeF64
		data, err = binary.Append(nil, binary.LittleEndian, gather(s.Data, pt))
	case *pytorch.IntStorage:
		dtype = DTypeI32
		data, err = binary.Append(nil, binary.LittleEndian, gather(s.Data, pt))
	case *pytorch.LongStorage:
		dtype = DTypeI64
		data, err = binary.Append(nil, binary.LittleEndian, gather(s.Data, pt))
	default:
		return Tensor{}, fmt.Errorf("%s: unsupported storage type %T", name, pt.Source)
	}
	if err != nil {
		return Tensor{}, err
	}

	return newTensor(name, append([]int(nil), pt.Size...), dtype, data)
}

// gather copies the elements viewed by pt out of its storage in row-major
// order, honouring the storage offset and strides.
func gather[T any](storage []T, pt *pytorch.Tensor) []T {
	n := 1
	for _, dim := range pt.Size {
		n *= dim
	}

	out := make([]T, 0, n)
	if n == 0 {
		return out
	}

	index := make([]int, len(pt.Size))
	for {
		offset := pt.StorageOffset
		for i, idx := range index {
			offset += idx * pt.Stride[i]
		}
		out = append(out, storage[offset])

		i := len(index) - 1
		for ; i >= 0; i-- {
			index[i]++
			if index[i] < pt.Size[i] {
				break
			}
			index[i] = 0
		}

		if i < 0 {
			return out
		}
	}
}
