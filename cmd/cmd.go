package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/jmorganca/barkggml/convert"
	"github.com/jmorganca/barkggml/envconfig"
	"github.com/jmorganca/barkggml/format"
	"github.com/jmorganca/barkggml/fs/ggml"
	"github.com/jmorganca/barkggml/logutil"
	"github.com/jmorganca/barkggml/progress"
)

const (
	modelFile = "ggml-model.bin"
	vocabFile = "ggml-vocab.bin"
)

// writeAtomic writes to a temporary file in dir and renames it to name
// once fn succeeds. On failure the partial file is removed.
func writeAtomic(dir, name string, fn func(io.Writer) error) (err error) {
	f, err := os.CreateTemp(dir, name+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	bw := bufio.NewWriter(f)
	if err := fn(bw); err != nil {
		return err
	}

	if err := bw.Flush(); err != nil {
		return err
	}

	// CreateTemp opens files private to the owner
	if err := f.Chmod(0o644); err != nil {
		return err
	}

	if err := f.Close(); err != nil {
		return err
	}

	return os.Rename(f.Name(), filepath.Join(dir, name))
}

// progressSource reports each checkpoint load as a step.
type progressSource struct {
	convert.Source
	p       *progress.Progress
	spinner *progress.Spinner
}

func (s *progressSource) step(name string) {
	if s.spinner != nil {
		s.spinner.Stop()
	}

	s.spinner = progress.NewSpinner(fmt.Sprintf("converting %s model", name))
	s.p.Add(s.spinner)
}

func (s *progressSource) GPT(name string) (*convert.GPT, error) {
	s.step(name)
	return s.Source.GPT(name)
}

func (s *progressSource) Codec() (*convert.Checkpoint, error) {
	s.step("codec")
	return s.Source.Codec()
}

func ConvertHandler(cmd *cobra.Command, args []string) error {
	dirModel, _ := cmd.Flags().GetString("dir-model")
	codecPath, _ := cmd.Flags().GetString("codec-path")
	outDir, _ := cmd.Flags().GetString("out-dir")

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}

	var src convert.Source = convert.Dir{ModelPath: dirModel, CodecPath: codecPath}
	if stderr := cmd.ErrOrStderr(); progress.IsTerminal(stderr) && !envconfig.Debug {
		p := progress.NewProgress(stderr)
		defer p.Stop()

		// status lines replace informational logs while they are drawn
		prev := slog.Default()
		slog.SetDefault(logutil.NewLogger(stderr, slog.LevelWarn))
		defer slog.SetDefault(prev)

		src = &progressSource{Source: src, p: p}
	}

	if err := writeAtomic(outDir, modelFile, func(w io.Writer) error {
		return convert.Convert(w, src)
	}); err != nil {
		return err
	}

	slog.Info("wrote model", "path", filepath.Join(outDir, modelFile))

	if _, err := os.Stat(filepath.Join(dirModel, "vocab.json")); errors.Is(err, os.ErrNotExist) {
		slog.Debug("no vocab.json, skipping vocabulary", "dir", dirModel)
		return nil
	}

	return VocabHandler(cmd, args)
}

func VocabHandler(cmd *cobra.Command, _ []string) error {
	dirModel, _ := cmd.Flags().GetString("dir-model")
	outDir, _ := cmd.Flags().GetString("out-dir")

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}

	if err := writeAtomic(outDir, vocabFile, func(w io.Writer) error {
		return convert.ConvertVocab(os.DirFS(dirModel), w)
	}); err != nil {
		return err
	}

	slog.Info("wrote vocabulary", "path", filepath.Join(outDir, vocabFile))
	return nil
}

func ShowHandler(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	file, err := ggml.Decode(f)
	if err != nil {
		return err
	}

	return showFile(file, cmd.OutOrStdout())
}

func showFile(f *ggml.File, w io.Writer) error {
	names := []string{convert.ModelText, convert.ModelCoarse, convert.ModelFine}
	for i, m := range f.Models {
		fmt.Fprintf(w, "%s: layers=%d heads=%d embd=%d block=%d vocab=%d/%d lm_heads=%d wtes=%d\n",
			names[i], m.NumLayer, m.NumHead, m.NumEmbd, m.BlockSize,
			m.InputVocabSize, m.OutputVocabSize, m.NumLMHeads, m.NumWTEs)
		showTensors(m.Tensors, w)
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "codec:")
	showTensors(f.Codec, w)
	return nil
}

func showTensors(ts []ggml.Tensor, w io.Writer) {
	var data [][]string
	for _, t := range ts {
		shape := make([]string, len(t.Shape))
		for i, n := range t.Shape {
			shape[i] = fmt.Sprint(n)
		}

		data = append(data, []string{
			t.Name,
			t.DType.String(),
			strings.Join(shape, "x"),
			format.HumanNumber(t.Elements()),
			format.HumanBytes(int64(t.Size())),
		})
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"NAME", "TYPE", "SHAPE", "ELEMENTS", "SIZE"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
}

func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "barkggml",
		Short: "Convert Bark checkpoints to ggml",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Disable usage printing on errors
			cmd.SilenceUsage = true
			slog.SetDefault(logutil.NewLogger(cmd.ErrOrStderr(), envconfig.LogLevel()))
		},
	}

	cobra.EnableCommandSorting = false

	convertCmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert the Bark GPT models and the Encodec codec into a single ggml file",
		Args:  cobra.NoArgs,
		RunE:  ConvertHandler,
	}

	convertCmd.Flags().String("dir-model", "", "Directory containing text_2.pt, coarse_2.pt and fine_2.pt")
	convertCmd.Flags().String("codec-path", "", "Directory containing the Encodec checkpoint")
	convertCmd.Flags().String("out-dir", "", "Output directory")
	for _, name := range []string{"dir-model", "codec-path", "out-dir"} {
		cobra.CheckErr(convertCmd.MarkFlagRequired(name))
	}

	vocabCmd := &cobra.Command{
		Use:   "vocab",
		Short: "Convert vocab.json into the ggml vocabulary format",
		Args:  cobra.NoArgs,
		RunE:  VocabHandler,
	}

	vocabCmd.Flags().String("dir-model", "", "Directory containing vocab.json")
	vocabCmd.Flags().String("out-dir", "", "Output directory")
	for _, name := range []string{"dir-model", "out-dir"} {
		cobra.CheckErr(vocabCmd.MarkFlagRequired(name))
	}

	showCmd := &cobra.Command{
		Use:   "show FILE",
		Short: "Show the contents of a converted model",
		Args:  cobra.ExactArgs(1),
		RunE:  ShowHandler,
	}

	envVars := envconfig.AsMap()
	appendEnvDocs(convertCmd, []envconfig.EnvVar{
		envVars["BARK_DEBUG"],
		envVars["BARK_STRICT_NAMES"],
		envVars["BARK_TEXT_CHECKPOINT"],
		envVars["BARK_COARSE_CHECKPOINT"],
		envVars["BARK_FINE_CHECKPOINT"],
		envVars["BARK_CODEC_CHECKPOINT"],
	})

	rootCmd.AddCommand(
		convertCmd,
		vocabCmd,
		showCmd,
	)

	return rootCmd
}

func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}
