package manifest

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Filename is the manifest name at the bundle root.
const Filename = "distpack-manifest.yaml"

const (
	manifestFileMode os.FileMode = 0o644

	// defaultMapCapacity is the initial capacity of the file map.
	defaultMapCapacity = 64
)

// ErrMismatch is returned by Verify when the bundle differs from its manifest.
var ErrMismatch = errors.New("bundle does not match its manifest")

// Actor identifies who produced a build.
type Actor struct {
	// Hostname is the build machine name.
	Hostname string `yaml:"hostname"`
	// Username is the system user running the packager.
	Username string `yaml:"username"`
}

// Manifest describes a packaged bundle.
type Manifest struct {
	// Generator is the distpack version that produced the bundle.
	Generator string `yaml:"generator"`
	// Name is the target name.
	Name string `yaml:"name"`
	// BuiltAt is the UTC time the manifest was written.
	BuiltAt time.Time `yaml:"built_at"`
	// BuiltBy is the builder identity, when it could be detected.
	BuiltBy *Actor `yaml:"built_by,omitempty"`
	// Files maps slash-separated paths relative to the bundle root to base64 checksums.
	Files map[string]string `yaml:"files"`
}

// New returns an empty manifest for the target.
func New(generator, name string, builtAt time.Time, builtBy *Actor) *Manifest {
	return &Manifest{
		Generator: generator,
		Name:      name,
		BuiltAt:   builtAt.UTC(),
		BuiltBy:   builtBy,
		Files:     make(map[string]string, defaultMapCapacity),
	}
}

// Fill hashes every regular file under root, except the manifest itself.
func (m *Manifest) Fill(root string) error {
	files, err := hashTree(root)
	if err != nil {
		return err
	}

	m.Files = files

	return nil
}

// Paths returns the recorded file paths in sorted order.
func (m *Manifest) Paths() []string {
	paths := make([]string, 0, len(m.Files))
	for p := range m.Files {
		paths = append(paths, p)
	}

	sort.Strings(paths)

	return paths
}

// Write stores the manifest at root/Filename.
func (m *Manifest) Write(root string) error {
	contents, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	if err = os.WriteFile(filepath.Join(root, Filename), contents, manifestFileMode); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	return nil
}

// Load reads root/Filename.
func Load(root string) (*Manifest, error) {
	contents, err := os.ReadFile(filepath.Join(root, Filename))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err = yaml.Unmarshal(contents, &m); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}

	return &m, nil
}

// Mismatch is one difference found by Verify.
type Mismatch struct {
	// Path is relative to the bundle root.
	Path string
	// Reason is "missing", "modified" or "unexpected".
	Reason string
}

// Verify re-hashes root and compares it with the stored manifest.
// It returns the differences and ErrMismatch when there are any.
func Verify(root string) ([]Mismatch, error) {
	m, err := Load(root)
	if err != nil {
		return nil, err
	}

	actual, err := hashTree(root)
	if err != nil {
		return nil, err
	}

	var mismatches []Mismatch

	for _, p := range m.Paths() {
		got, ok := actual[p]

		switch {
		case !ok:
			mismatches = append(mismatches, Mismatch{Path: p, Reason: "missing"})
		case got != m.Files[p]:
			mismatches = append(mismatches, Mismatch{Path: p, Reason: "modified"})
		}
	}

	var extra []string

	for p := range actual {
		if _, ok := m.Files[p]; !ok {
			extra = append(extra, p)
		}
	}

	sort.Strings(extra)

	for _, p := range extra {
		mismatches = append(mismatches, Mismatch{Path: p, Reason: "unexpected"})
	}

	if len(mismatches) > 0 {
		return mismatches, fmt.Errorf("%d difference(s): %w", len(mismatches), ErrMismatch)
	}

	return nil, nil
}

// Summary renders mismatches one per line.
func Summary(mismatches []Mismatch) string {
	var builder strings.Builder

	for i, mismatch := range mismatches {
		if i > 0 {
			builder.WriteString("\n")
		}

		builder.WriteString(mismatch.Reason)
		builder.WriteString(": ")
		builder.WriteString(mismatch.Path)
	}

	return builder.String()
}

func hashTree(root string) (map[string]string, error) {
	files := make(map[string]string, defaultMapCapacity)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		rel = filepath.ToSlash(rel)
		if rel == Filename {
			return nil
		}

		checksum, err := FileChecksum(path)
		if err != nil {
			return err
		}

		files[rel] = base64.StdEncoding.EncodeToString(checksum)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("hash %s: %w", root, err)
	}

	return files, nil
}
