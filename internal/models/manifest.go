// Package models implements the on-disk model asset store (C2): per-engine
// manifests, readiness checks, downloads with resume, streaming archive
// extraction, and deletion.
//
// Grounded on model_service.go's modelEntry/modelRegistry and
// DownloadModel/runDownload (temp file + SHA-256 + atomic rename), extended
// to per-engine multi-file manifests and resumable downloads. The manifest
// table itself is loaded from an embedded YAML document rather than a Go
// literal, matching the fixture-as-YAML style of
// MrWong99-glyphoxa/internal/entity/yamlloader.go.
package models

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Engine is the closed set of spec.md §3's "Engine kind", plus the shared
// VAD asset which is not itself selectable as an engine.
type Engine string

const (
	Streaming Engine = "streaming"
	Segmented Engine = "segmented"
	VAD       Engine = "vad"
)

// manifestYAML is the default manifest table, kept as a readable YAML
// fixture alongside the code rather than a struct literal.
//
//go:embed manifest.yaml
var manifestYAML []byte

// Manifest describes one engine's on-disk asset layout, per spec.md §4.2.
type Manifest struct {
	Engine          Engine   `yaml:"engine"`
	Dir             string   `yaml:"dir"`              // relative to <data>/models
	RequiredPrefix  []string `yaml:"required_prefixes"` // e.g. "encoder", "decoder"
	SingleFile      string   `yaml:"single_file"`       // set for single-file assets (vad)
	DefaultURL      string   `yaml:"default_url"`
	ArchiveFileName string   `yaml:"archive_file_name"` // name of the downloaded archive, if any
	SHA256          string   `yaml:"sha256"`            // hex, empty if unknown
}

// MultiFile reports whether the manifest describes a directory of several
// named prefix files rather than one single file asset.
func (m Manifest) MultiFile() bool { return m.SingleFile == "" }

// manifestTable loads the default set of per-engine manifests.
func manifestTable() (map[Engine]Manifest, error) {
	var list []Manifest
	dec := yaml.NewDecoder(bytes.NewReader(manifestYAML))
	dec.KnownFields(true)
	if err := dec.Decode(&list); err != nil {
		return nil, fmt.Errorf("models: decode manifest table: %w", err)
	}
	out := make(map[Engine]Manifest, len(list))
	for _, m := range list {
		out[m.Engine] = m
	}
	return out, nil
}

// Status is the per-asset readiness state of spec.md §3.
type Status string

const (
	NotFound   Status = "notFound"
	Incomplete Status = "incomplete"
	Corrupted  Status = "corrupted"
	Ready      Status = "ready"
	Downloading Status = "downloading"
	Extracting Status = "extracting"
)

// resolveRequiredFiles returns, for each required prefix, the first file in
// dir whose name starts with that prefix (quantized and full variants both
// match their shared prefix, per spec.md §4.2's ".int8.onnx vs .onnx"
// disambiguation-by-suffix note).
func resolveRequiredFiles(dir string, prefixes []string) (map[string]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("models: read %s: %w", dir, err)
	}

	found := make(map[string]string, len(prefixes))
	for _, prefix := range prefixes {
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if strings.HasPrefix(e.Name(), prefix) {
				found[prefix] = filepath.Join(dir, e.Name())
				break
			}
		}
	}
	return found, nil
}
