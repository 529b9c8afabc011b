// SPDX-License-Identifier: MIT

package viewer

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"

	"github.com/opentouch/touchstream/internal/fsutil"
)

// DefaultTimeline is the time axis every decoded sample is logged on.
const DefaultTimeline = "ot_time"

//go:embed layout.yaml
var defaultLayoutYAML []byte

var defaultLayout = mustParseLayout(defaultLayoutYAML)

// View is one panel in the viewer layout.
type View struct {
	Name     string   `yaml:"name" json:"name"`
	Type     string   `yaml:"type" json:"type"`
	Entities []string `yaml:"entities" json:"entities"`
}

// Layout arranges viewer panels over the shared timeline.
type Layout struct {
	Timeline string `yaml:"timeline" json:"timeline"`
	Views    []View `yaml:"views" json:"views"`
}

func mustParseLayout(raw []byte) Layout {
	var l Layout
	if err := yaml.Unmarshal(raw, &l); err != nil {
		panic(fmt.Sprintf("viewer: embedded layout: %v", err))
	}
	return l
}

// DefaultLayout returns the embedded Cameras/Scalars/Audio layout.
func DefaultLayout() Layout { return defaultLayout }

// LoadLayout reads a layout override from a YAML file. A missing timeline
// falls back to DefaultTimeline.
func LoadLayout(path string) (Layout, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- layout paths come from the operator config
	if err != nil {
		return Layout{}, fmt.Errorf("viewer: read layout: %w", err)
	}
	var l Layout
	if err := yaml.Unmarshal(raw, &l); err != nil {
		return Layout{}, fmt.Errorf("viewer: parse layout %s: %w", path, err)
	}
	if l.Timeline == "" {
		l.Timeline = DefaultTimeline
	}
	return l, nil
}

// Fingerprint is the first 12 hex digits of the SHA-256 over the layout's
// canonical JSON form.
func (l Layout) Fingerprint() string {
	payload, _ := json.Marshal(l)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])[:12]
}

// Ensure writes the layout into dir once and returns its path. The file
// name carries the fingerprint, so an edited layout lands in a fresh file
// while existing sessions keep reading the one they were spawned with.
func (l Layout) Ensure(dir string) (string, error) {
	path := filepath.Join(dir, fmt.Sprintf("viewer-layout-%s.yaml", l.Fingerprint()))
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		return path, nil
	}
	if err := fsutil.EnsureDir(dir); err != nil {
		return "", err
	}
	raw, err := yaml.Marshal(l)
	if err != nil {
		return "", fmt.Errorf("viewer: encode layout: %w", err)
	}
	if err := renameio.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("viewer: write layout: %w", err)
	}
	return path, nil
}
