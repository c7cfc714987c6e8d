package engine

import (
	"os"
	"path/filepath"
)

// ModelOption describes one engine model preset.
type ModelOption struct {
	Name        string `json:"name" yaml:"name"`
	SizeLabel   string `json:"size_label" yaml:"size_label"`
	Description string `json:"description" yaml:"description"`
	Downloaded  bool   `json:"downloaded" yaml:"downloaded"`
	LocalPath   string `json:"local_path,omitempty" yaml:"local_path,omitempty"`

	// cacheFiles are the checkpoint names the engine may store for this
	// model, preferred first. Empty means <name>.pt.
	cacheFiles []string
}

var modelCatalog = []ModelOption{
	{Name: "tiny", SizeLabel: "~39 MB", Description: "Fastest, lowest accuracy."},
	{Name: "base", SizeLabel: "~142 MB", Description: "Fast with basic accuracy."},
	{Name: "small", SizeLabel: "~461 MB", Description: "Balanced speed and accuracy."},
	{Name: "medium", SizeLabel: "~1.5 GB", Description: "High accuracy, slower."},
	{Name: "large", SizeLabel: "~2.9 GB", Description: "Highest accuracy, slowest.",
		cacheFiles: []string{"large-v3.pt", "large-v2.pt", "large-v1.pt", "large.pt"}},
}

// Language is a supported recognition language.
type Language struct {
	Code string `json:"code" yaml:"code"`
	Name string `json:"name" yaml:"name"`
}

// Languages lists the language codes offered to callers.
var Languages = []Language{
	{"ja", "日本語"},
	{"en", "English"},
	{"zh", "中文"},
	{"ko", "한국어"},
	{"es", "Español"},
	{"fr", "Français"},
	{"de", "Deutsch"},
	{"it", "Italiano"},
	{"pt", "Português"},
	{"ru", "Русский"},
	{"ar", "العربية"},
	{"hi", "हिन्दी"},
}

// ModelNames returns the known model names, smallest first.
func ModelNames() []string {
	names := make([]string, len(modelCatalog))
	for i, m := range modelCatalog {
		names[i] = m.Name
	}
	return names
}

func IsKnownModel(name string) bool {
	for _, m := range modelCatalog {
		if m.Name == name {
			return true
		}
	}
	return false
}

// Catalog returns the model presets with their download state resolved
// against cacheDir, the engine's checkpoint cache. The "large" alias is
// cached under its versioned name (large-v3.pt).
func Catalog(cacheDir string) []ModelOption {
	out := make([]ModelOption, len(modelCatalog))
	for i, m := range modelCatalog {
		out[i] = m
		if cacheDir == "" {
			continue
		}
		files := m.cacheFiles
		if len(files) == 0 {
			files = []string{m.Name + ".pt"}
		}
		for _, name := range files {
			path := filepath.Join(cacheDir, name)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				out[i].Downloaded = true
				out[i].LocalPath = path
				break
			}
		}
	}
	return out
}
