package convert

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"golang.org/x/exp/maps"
)

type safetensorMetadata struct {
	Type    string  `json:"dtype"`
	Shape   []int   `json:"shape"`
	Offsets []int64 `json:"data_offsets"`
}

// LoadSafetensors reads every tensor of a safetensors file. Tensors are
// ordered by their position in the file.
func LoadSafetensors(p string) (*Checkpoint, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var n int64
	if err := binary.Read(f, binary.LittleEndian, &n); err != nil {
		return nil, err
	}

	b := bytes.NewBuffer(make([]byte, 0, n))
	if _, err = io.CopyN(b, f, n); err != nil {
		return nil, err
	}

	var headers map[string]safetensorMetadata
	if err := json.NewDecoder(b).Decode(&headers); err != nil {
		return nil, err
	}

	keys := maps.Keys(headers)
	slices.SortFunc(keys, func(a, b string) int {
		return cmpOffsets(headers[a].Offsets, headers[b].Offsets)
	})

	var c Checkpoint
	for _, key := range keys {
		value := headers[key]
		// __metadata__ has no dtype
		if value.Type == "" {
			continue
		}

		if len(value.Offsets) != 2 || value.Offsets[0] > value.Offsets[1] {
			return nil, fmt.Errorf("%s: invalid data offsets %v", key, value.Offsets)
		}

		data := make([]byte, value.Offsets[1]-value.Offsets[0])
		if _, err := f.ReadAt(data, safetensorsPad(n, value.Offsets[0])); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("%s: %w", key, err)
		}

		t, err := newTensor(key, value.Shape, DType(value.Type), data)
		if err != nil {
			return nil, err
		}

		if err := c.Add(t); err != nil {
			return nil, err
		}
	}

	return &c, nil
}

// safetensorsPad returns the absolute file offset of a data offset given
// the header length n
func safetensorsPad(n, offset int64) int64 {
	return 8 + n + offset
}

func cmpOffsets(a, b []int64) int {
	if len(a) == 0 || len(b) == 0 {
		return len(a) - len(b)
	}

	return cmp.Compare(a[0], b[0])
}
