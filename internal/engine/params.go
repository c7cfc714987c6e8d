package engine

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/audiolibrelab/jamscribe/internal/errs"
)

// SkipPreprocessingKey is read from the overrides and never reaches the engine.
const SkipPreprocessingKey = "skip_preprocessing"

// Params is the merged option set passed to the engine as --key=value.
type Params map[string]any

// Resolution is the output of Resolve.
type Resolution struct {
	Model             string
	Params            Params
	SkipPreprocessing bool
}

// japaneseDefaults are tuned only for Japanese input.
var japaneseDefaults = Params{
	"patience":                   1.0,
	"length_penalty":             1.0,
	"suppress_tokens":            []int{-1},
	"word_timestamps":            false,
	"condition_on_previous_text": true,
}

var commonDefaults = Params{
	"temperature": 0.2,
	"best_of":     1,
	"beam_size":   1,
}

// reserved options are owned by the adapter.
var reserved = map[string]bool{
	"model":         true,
	"output_dir":    true,
	"output_format": true,
	"verbose":       true,
}

var optionName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Resolve merges base parameters, language-tuned defaults and user
// overrides, in that order of increasing precedence.
func Resolve(language, model string, overrides map[string]any) (Resolution, error) {
	language = strings.TrimSpace(language)
	if language == "" {
		return Resolution{}, errs.Validation("language is required")
	}
	if len(language) > 10 {
		return Resolution{}, errs.Validation("language code too long: %q", language)
	}
	if !IsKnownModel(model) {
		return Resolution{}, errs.Validation("unknown model %q (expected one of %s)", model, strings.Join(ModelNames(), ", "))
	}

	params := Params{"language": language, "task": "transcribe"}
	for k, v := range commonDefaults {
		params[k] = v
	}
	if language == "ja" {
		for k, v := range japaneseDefaults {
			params[k] = v
		}
	}

	res := Resolution{Model: model, Params: params}
	for k, v := range overrides {
		if k == SkipPreprocessingKey {
			skip, err := asBool(v)
			if err != nil {
				return Resolution{}, errs.Validation("%s: %v", k, err)
			}
			res.SkipPreprocessing = skip
			continue
		}
		if !optionName.MatchString(k) {
			return Resolution{}, errs.Validation("invalid option name %q", k)
		}
		if reserved[k] {
			return Resolution{}, errs.Validation("option %q cannot be overridden", k)
		}
		if _, err := formatValue(v); err != nil {
			return Resolution{}, errs.Validation("option %q: %v", k, err)
		}
		params[k] = v
	}
	return res, nil
}

// Args renders params as sorted --key=value arguments.
func (p Params) Args() ([]string, error) {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]string, 0, len(keys))
	for _, k := range keys {
		v, err := formatValue(p[k])
		if err != nil {
			return nil, fmt.Errorf("option %q: %w", k, err)
		}
		args = append(args, "--"+k+"="+v)
	}
	return args, nil
}

func formatValue(v any) (string, error) {
	switch x := v.(type) {
	case string:
		if strings.ContainsAny(x, "\x00\n\r") {
			return "", fmt.Errorf("value contains control characters")
		}
		return x, nil
	case bool:
		// the engine parses booleans as Python literals
		if x {
			return "True", nil
		}
		return "False", nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), nil
	case []int:
		parts := make([]string, len(x))
		for i, n := range x {
			parts[i] = strconv.Itoa(n)
		}
		return strings.Join(parts, ","), nil
	case []float64:
		parts := make([]string, len(x))
		for i, f := range x {
			parts[i] = strconv.FormatFloat(f, 'f', -1, 64)
		}
		return strings.Join(parts, ","), nil
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			s, err := formatValue(e)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return strings.Join(parts, ","), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

func asBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		return strconv.ParseBool(x)
	default:
		return false, fmt.Errorf("expected a boolean, got %T", v)
	}
}
