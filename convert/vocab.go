package convert

import (
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"slices"

	"github.com/jmorganca/barkggml/fs/ggml"
)

// parseVocab reads a vocab.json mapping token to id and returns the tokens
// ordered by id.
func parseVocab(fsys fs.FS, name string) ([]string, error) {
	bts, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, err
	}

	var vocab map[string]int
	if err := json.Unmarshal(bts, &vocab); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	type token struct {
		text string
		id   int
	}

	tokens := make([]token, 0, len(vocab))
	for text, id := range vocab {
		tokens = append(tokens, token{text, id})
	}

	slices.SortFunc(tokens, func(a, b token) int {
		return cmp.Or(cmp.Compare(a.id, b.id), cmp.Compare(a.text, b.text))
	})

	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.text
	}

	return out, nil
}

// ConvertVocab writes the vocabulary side channel from vocab.json in fsys.
func ConvertVocab(fsys fs.FS, w io.Writer) error {
	tokens, err := parseVocab(fsys, "vocab.json")
	if err != nil {
		return err
	}

	slog.Info("vocabulary", "size", len(tokens))
	return ggml.NewWriter(w).WriteVocab(tokens)
}
