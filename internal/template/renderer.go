// Package template renders notification subjects and bodies. A template is
// addressed by a reference resolved through a Store; references ending in
// ".html" are rendered with html/template (escaped), everything else with
// text/template.
package template

import (
	"bytes"
	"fmt"
	html "html/template"
	"os"
	"path/filepath"
	"strings"
	text "text/template"
)

// Store resolves a template reference to its source.
type Store interface {
	Source(ref string) (string, error)
}

// DirStore loads template sources from files under a base directory.
type DirStore struct {
	dir string
}

// NewDirStore creates a store reading templates from dir.
func NewDirStore(dir string) *DirStore {
	return &DirStore{dir: dir}
}

// Source reads the template file addressed by ref. Refs escaping the base
// directory are rejected.
func (s *DirStore) Source(ref string) (string, error) {
	clean := filepath.Clean(ref)
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid template ref %q", ref)
	}

	b, err := os.ReadFile(filepath.Join(s.dir, clean))
	if err != nil {
		return "", fmt.Errorf("read template %q: %w", ref, err)
	}

	return string(b), nil
}

// MapStore serves template sources from an in-memory map. Used in tests and
// for inline template setups.
type MapStore map[string]string

// Source returns the template source registered under ref.
func (s MapStore) Source(ref string) (string, error) {
	src, ok := s[ref]
	if !ok {
		return "", fmt.Errorf("template %q not found", ref)
	}

	return src, nil
}

// Renderer turns a (template reference, context data) pair into a rendered
// string.
type Renderer struct {
	store Store
}

// NewRenderer creates a renderer backed by the given store.
func NewRenderer(store Store) *Renderer {
	return &Renderer{store: store}
}

// Render resolves ref through the store and executes it with data.
func (r *Renderer) Render(ref string, data map[string]any) (string, error) {
	src, err := r.store.Source(ref)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer

	if strings.HasSuffix(ref, ".html") {
		t, err := html.New(ref).Parse(src)
		if err != nil {
			return "", fmt.Errorf("parse html template %q: %w", ref, err)
		}

		if err := t.Execute(&buf, data); err != nil {
			return "", fmt.Errorf("render html template %q: %w", ref, err)
		}

		return buf.String(), nil
	}

	t, err := text.New(ref).Option("missingkey=error").Parse(src)
	if err != nil {
		return "", fmt.Errorf("parse template %q: %w", ref, err)
	}

	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render template %q: %w", ref, err)
	}

	return buf.String(), nil
}
