package cmd

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jmorganca/barkggml/convert"
	"github.com/jmorganca/barkggml/fs/ggml"
	"github.com/jmorganca/barkggml/progress"
)

func writeModel(t *testing.T, w io.Writer) {
	t.Helper()

	gw := ggml.NewWriter(w)
	if err := gw.WriteMagic(); err != nil {
		t.Fatal(err)
	}

	for i := range ggml.NumModels {
		if err := gw.WriteHParams(ggml.HParams{
			NumLayer: 1, NumHead: 1, NumEmbd: 2, BlockSize: 4,
			InputVocabSize: 3, OutputVocabSize: 3, NumLMHeads: 1, NumWTEs: int32(i + 1),
		}); err != nil {
			t.Fatal(err)
		}

		if err := gw.WriteInt32(1); err != nil {
			t.Fatal(err)
		}

		if err := gw.WriteTensor(ggml.Tensor{Name: "model/wpe", Shape: []int{4, 2}, Data: make([]float32, 8)}); err != nil {
			t.Fatal(err)
		}
	}

	if err := gw.WriteTensor(ggml.Tensor{Name: "quantizer.vq.layers.0._codebook.embed", Shape: []int{1024, 128}, Data: make([]float32, 1024*128)}); err != nil {
		t.Fatal(err)
	}
}

func TestShowFile(t *testing.T) {
	var b bytes.Buffer
	writeModel(t, &b)

	f, err := ggml.Decode(&b)
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := showFile(f, &out); err != nil {
		t.Fatal(err)
	}

	for _, expect := range []string{
		"text: layers=1 heads=1 embd=2 block=4 vocab=3/3 lm_heads=1 wtes=1\n",
		"coarse: layers=1 heads=1 embd=2 block=4 vocab=3/3 lm_heads=1 wtes=2\n",
		"fine: layers=1 heads=1 embd=2 block=4 vocab=3/3 lm_heads=1 wtes=3\n",
		"codec:\n",
		"model/wpe",
		"4x2",
		"quantizer.vq.layers.0._codebook.embed",
		"1024x128",
		"131K",
		"524 KB",
	} {
		if !strings.Contains(out.String(), expect) {
			t.Errorf("expected output to contain %q, got:\n%s", expect, out.String())
		}
	}
}

func TestShowCommand(t *testing.T) {
	p := filepath.Join(t.TempDir(), "ggml-model.bin")
	f, err := os.Create(p)
	if err != nil {
		t.Fatal(err)
	}

	writeModel(t, f)
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	cmd := NewCLI()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"show", p})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(out.String(), "model/wpe") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}

func TestShowCommandInvalid(t *testing.T) {
	p := filepath.Join(t.TempDir(), "ggml-model.bin")
	if err := os.WriteFile(p, []byte("GGUF\x03\x00\x00\x00"), 0o644); err != nil {
		t.Fatal(err)
	}

	cmd := NewCLI()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"show", p})
	if err := cmd.Execute(); !errors.Is(err, ggml.ErrInvalidMagic) {
		t.Fatalf("expected %v, got %v", ggml.ErrInvalidMagic, err)
	}
}

func TestVocabCommand(t *testing.T) {
	dirModel, outDir := t.TempDir(), filepath.Join(t.TempDir(), "out")
	if err := os.WriteFile(filepath.Join(dirModel, "vocab.json"), []byte(`{"b": 1, "a": 0, "c": 2}`), 0o644); err != nil {
		t.Fatal(err)
	}

	cmd := NewCLI()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"vocab", "--dir-model", dirModel, "--out-dir", outDir})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(filepath.Join(outDir, vocabFile))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	tokens, err := ggml.DecodeVocab(f)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]string{"a", "b", "c"}, tokens); diff != "" {
		t.Errorf("tokens mismatch (-want +got):\n%s", diff)
	}
}

func TestConvertCommandMissingFlags(t *testing.T) {
	cmd := NewCLI()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"convert", "--dir-model", t.TempDir()})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error")
	}
}

func TestConvertCommandCleanup(t *testing.T) {
	outDir := t.TempDir()

	cmd := NewCLI()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"convert", "--dir-model", t.TempDir(), "--codec-path", t.TempDir(), "--out-dir", outDir})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for a directory without checkpoints")
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		t.Fatal(err)
	}

	if len(entries) != 0 {
		t.Errorf("expected an empty output directory, found %d entries", len(entries))
	}
}

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()

	if err := writeAtomic(dir, "out.bin", func(w io.Writer) error {
		_, err := io.WriteString(w, "partial")
		if err != nil {
			return err
		}
		return errors.New("failed")
	}); err == nil {
		t.Fatal("expected error")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}

	if len(entries) != 0 {
		t.Fatalf("expected partial output removed, found %d entries", len(entries))
	}

	if err := writeAtomic(dir, "out.bin", func(w io.Writer) error {
		_, err := io.WriteString(w, "complete")
		return err
	}); err != nil {
		t.Fatal(err)
	}

	bts, err := os.ReadFile(filepath.Join(dir, "out.bin"))
	if err != nil {
		t.Fatal(err)
	}

	if string(bts) != "complete" {
		t.Errorf("got %q, want %q", bts, "complete")
	}

	info, err := os.Stat(filepath.Join(dir, "out.bin"))
	if err != nil {
		t.Fatal(err)
	}

	if perm := info.Mode().Perm(); perm != 0o644 {
		t.Errorf("got mode %v, want %v", perm, os.FileMode(0o644))
	}
}

type fakeSource struct{}

func (fakeSource) GPT(string) (*convert.GPT, error) {
	return nil, os.ErrNotExist
}

func (fakeSource) Codec() (*convert.Checkpoint, error) {
	return convert.NewCheckpoint()
}

func TestProgressSource(t *testing.T) {
	var b bytes.Buffer
	p := progress.NewProgress(&b)
	src := &progressSource{Source: fakeSource{}, p: p}

	if _, err := src.GPT(convert.ModelText); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected %v, got %v", os.ErrNotExist, err)
	}

	first := src.spinner
	if _, err := src.Codec(); err != nil {
		t.Fatal(err)
	}

	if !strings.HasPrefix(first.String(), "converting text model (") {
		t.Errorf("expected the previous step to be stopped, got %q", first.String())
	}

	p.Stop()

	for _, expect := range []string{"converting text model (", "converting codec model ("} {
		if !strings.Contains(b.String(), expect) {
			t.Errorf("expected %q in %q", expect, b.String())
		}
	}
}
