// Package config persists the settings nextalk's core reads (spec.md §6):
// engine preference, audio device name, custom model URL override, and
// hotkey string. Parsing of the settings file itself, localization, and the
// tray menu are external collaborators (spec.md §1) — this package only
// owns the subset of fields the core consumes.
//
// Adapted from the teacher's config_service.go: same atomic
// write-temp-then-rename persistence, same "fill zero fields with
// defaults" tolerant loader.
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"nextalk/internal/hotkeygrammar"
)

// Config holds the persistent settings the voice-input runtime reads.
type Config struct {
	Engine          string            `json:"engine"`            // "streaming" | "segmented"
	AudioDevice     string            `json:"audio_device"`      // exact/substring device name, "" = default
	ModelURLOverride map[string]string `json:"model_url_override"` // engine name -> custom download URL
	Hotkey          string            `json:"hotkey"`             // grammar of spec.md §6
	Language        string            `json:"language"`           // segmented engine language tag
}

// DefaultConfig returns factory defaults.
func DefaultConfig() Config {
	return Config{
		Engine:           "streaming",
		AudioDevice:      "",
		ModelURLOverride: map[string]string{},
		Hotkey:           "Ctrl+Alt+V",
		Language:         "auto",
	}
}

// Service loads and saves Config to disk.
type Service struct {
	path string
}

// NewService creates a Service pointing at <dataDir>/nextalk/config.json.
func NewService(dataDir string) *Service {
	return &Service{path: filepath.Join(dataDir, "nextalk", "config.json")}
}

// NewServiceAt creates a Service at an arbitrary path (tests only).
func NewServiceAt(path string) *Service {
	return &Service{path: path}
}

// Load reads the config from disk, falling back to defaults for a missing
// or corrupt file, and filling any zero-valued field with its default.
func (s *Service) Load() Config {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return DefaultConfig()
	}
	if err != nil {
		log.Printf("config: read error: %v — using defaults", err)
		return DefaultConfig()
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		log.Printf("config: parse error: %v — resetting to defaults", err)
		defaults := DefaultConfig()
		_ = s.Save(defaults) // overwrite corrupt file
		return defaults
	}
	d := DefaultConfig()
	if cfg.Engine == "" {
		cfg.Engine = d.Engine
	}
	if cfg.Hotkey == "" {
		cfg.Hotkey = d.Hotkey
	}
	if cfg.Language == "" {
		cfg.Language = d.Language
	}
	if cfg.ModelURLOverride == nil {
		cfg.ModelURLOverride = map[string]string{}
	}
	return cfg
}

// Save writes cfg to disk atomically: write to a temp file, then rename.
// Hotkey is validated against spec.md §6's grammar before anything is
// written — an invalid string would otherwise be silently accepted here
// and only surface later, when whatever reads it (the desktop environment's
// own shortcut binder) rejects it.
func (s *Service) Save(cfg Config) error {
	if cfg.Hotkey != "" {
		if _, err := hotkeygrammar.Parse(cfg.Hotkey); err != nil {
			return fmt.Errorf("config: hotkey %q: %w", cfg.Hotkey, err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
