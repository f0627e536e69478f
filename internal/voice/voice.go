// Package voice loads the voice profile catalog: named stock speakers and
// voices cloned from a reference recording.
package voice

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/loqalabs/readaloud/internal/config"
	"github.com/loqalabs/readaloud/internal/tts"
)

// Catalog is the contents of a voices file.
type Catalog struct {
	Default string    `yaml:"default"`
	Voices  []Profile `yaml:"voices"`
}

type Profile struct {
	Name           string `yaml:"name"`
	Description    string `yaml:"description,omitempty"`
	Kind           string `yaml:"kind"`
	Speaker        string `yaml:"speaker,omitempty"`
	Language       string `yaml:"language,omitempty"`
	ReferenceAudio string `yaml:"reference_audio,omitempty"`
	Transcript     string `yaml:"transcript,omitempty"`
}

// Load reads a catalog from disk. Relative reference_audio paths are resolved
// against the directory of the file.
func Load(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, err
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("parse voices %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	for i := range c.Voices {
		ref := c.Voices[i].ReferenceAudio
		if ref != "" && !filepath.IsAbs(ref) {
			c.Voices[i].ReferenceAudio = filepath.Join(dir, ref)
		}
	}
	return c, nil
}

// Validate ensures every profile is usable and names are unique.
func Validate(c Catalog) error {
	seen := make(map[string]bool, len(c.Voices))
	for i, p := range c.Voices {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return fmt.Errorf("voices[%d].name is required", i)
		}
		if seen[name] {
			return fmt.Errorf("voice %q defined twice", name)
		}
		seen[name] = true
		if err := p.Voice().Validate(); err != nil {
			return fmt.Errorf("voice %q: %w", name, err)
		}
	}
	if c.Default != "" && !seen[c.Default] {
		return fmt.Errorf("default voice %q is not defined", c.Default)
	}
	return nil
}

// Voice converts the profile into the descriptor handed to engines.
func (p Profile) Voice() tts.Voice {
	kind := tts.VoiceKind(p.Kind)
	if kind == "" {
		kind = tts.VoiceStock
	}
	return tts.Voice{
		Name:           p.Name,
		Kind:           kind,
		Speaker:        p.Speaker,
		Language:       p.Language,
		ReferenceAudio: p.ReferenceAudio,
		Transcript:     p.Transcript,
	}
}

// Resolve looks up a voice by name. An empty name selects the catalog
// default, or the first voice when no default is set.
func (c Catalog) Resolve(name string) (tts.Voice, error) {
	if name == "" {
		name = c.Default
	}
	if name == "" {
		if len(c.Voices) == 0 {
			return tts.Voice{}, fmt.Errorf("voice catalog is empty")
		}
		return c.Voices[0].Voice(), nil
	}
	for _, p := range c.Voices {
		if p.Name == name {
			return p.Voice(), nil
		}
	}
	return tts.Voice{}, fmt.Errorf("voice %q not found", name)
}

// Names lists the configured voices in file order.
func (c Catalog) Names() []string {
	out := make([]string, len(c.Voices))
	for i, p := range c.Voices {
		out[i] = p.Name
	}
	return out
}

// FromConfig loads the voices file named by cfg, or, when none is set, a
// catalog holding only the configured stock voice.
func FromConfig(cfg config.TTSConfig) (Catalog, error) {
	if cfg.VoicesFile == "" {
		v := tts.DefaultVoice(cfg)
		return Catalog{
			Default: v.Name,
			Voices:  []Profile{{Name: v.Name, Kind: string(v.Kind), Speaker: v.Speaker, Language: v.Language}},
		}, nil
	}
	c, err := Load(cfg.VoicesFile)
	if err != nil {
		return Catalog{}, err
	}
	if err := Validate(c); err != nil {
		return Catalog{}, fmt.Errorf("invalid voices file %s: %w", cfg.VoicesFile, err)
	}
	return c, nil
}
