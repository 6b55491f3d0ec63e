package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/jmorganca/barkggml/logutil"
)

var (
	// Set via BARK_DEBUG in the environment
	Debug bool
	// Set via BARK_DEBUG=2 in the environment
	Trace bool
	// Set via BARK_STRICT_NAMES in the environment
	StrictNames bool
	// Set via BARK_TEXT_CHECKPOINT in the environment
	TextCheckpoint string
	// Set via BARK_COARSE_CHECKPOINT in the environment
	CoarseCheckpoint string
	// Set via BARK_FINE_CHECKPOINT in the environment
	FineCheckpoint string
	// Set via BARK_CODEC_CHECKPOINT in the environment
	CodecCheckpoint string
)

type EnvVar struct {
	Name        string
	Value       any
	Description string
}

func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"BARK_DEBUG":             {"BARK_DEBUG", Debug, "Show additional debug information (e.g. BARK_DEBUG=1, BARK_DEBUG=2 for trace)"},
		"BARK_STRICT_NAMES":      {"BARK_STRICT_NAMES", StrictNames, "Fail on tensor names without a ggml mapping"},
		"BARK_TEXT_CHECKPOINT":   {"BARK_TEXT_CHECKPOINT", TextCheckpoint, "Text model checkpoint file (default \"text_2.pt\")"},
		"BARK_COARSE_CHECKPOINT": {"BARK_COARSE_CHECKPOINT", CoarseCheckpoint, "Coarse model checkpoint file (default \"coarse_2.pt\")"},
		"BARK_FINE_CHECKPOINT":   {"BARK_FINE_CHECKPOINT", FineCheckpoint, "Fine model checkpoint file (default \"fine_2.pt\")"},
		"BARK_CODEC_CHECKPOINT":  {"BARK_CODEC_CHECKPOINT", CodecCheckpoint, "Encodec checkpoint file (default \"encodec_24khz-d7cc33bc.th\")"},
	}
}

func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}

// Clean quotes and spaces from the value
func clean(key string) string {
	return strings.Trim(os.Getenv(key), "\"' ")
}

func init() {
	LoadConfig()
}

func LoadConfig() {
	Debug, Trace = false, false
	if debug := clean("BARK_DEBUG"); debug != "" {
		if level, err := strconv.Atoi(debug); err == nil {
			Debug, Trace = level > 0, level > 1
		} else if d, err := strconv.ParseBool(debug); err == nil {
			Debug = d
		} else {
			Debug = true
		}
	}

	StrictNames = false
	if strict := clean("BARK_STRICT_NAMES"); strict != "" {
		s, err := strconv.ParseBool(strict)
		if err != nil {
			slog.Error("invalid setting, ignoring", "BARK_STRICT_NAMES", strict, "error", err)
		} else {
			StrictNames = s
		}
	}

	TextCheckpoint = cleanOr("BARK_TEXT_CHECKPOINT", "text_2.pt")
	CoarseCheckpoint = cleanOr("BARK_COARSE_CHECKPOINT", "coarse_2.pt")
	FineCheckpoint = cleanOr("BARK_FINE_CHECKPOINT", "fine_2.pt")
	CodecCheckpoint = cleanOr("BARK_CODEC_CHECKPOINT", "encodec_24khz-d7cc33bc.th")
}

func cleanOr(key, defaultValue string) string {
	if s := clean(key); s != "" {
		return s
	}
	return defaultValue
}

// LogLevel maps BARK_DEBUG to a slog level.
func LogLevel() slog.Level {
	switch {
	case Trace:
		return logutil.LevelTrace
	case Debug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
