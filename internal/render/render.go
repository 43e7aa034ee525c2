// Package render turns configured template strings and event data into
// notification text, and markdown into the HTML mail body.
package render

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"text/template"
)

// maxCached bounds the template cache; hot reloads can introduce new sources.
const maxCached = 64

// noValue is what text/template prints for a missing key in a map[string]any.
const noValue = "<no value>"

var funcs = template.FuncMap{
	"upper":    strings.ToUpper,
	"lower":    strings.ToLower,
	"trim":     strings.TrimSpace,
	"basename": filepath.Base,
	"default": func(def, v any) any {
		if v == nil {
			return def
		}
		if s, ok := v.(string); ok && s == "" {
			return def
		}
		return v
	},
}

// Renderer compiles and caches text/template sources. Safe for concurrent use.
type Renderer struct {
	mu    sync.Mutex
	cache map[string]*template.Template
}

func New() *Renderer {
	return &Renderer{cache: make(map[string]*template.Template)}
}

func (r *Renderer) compile(src string) (*template.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.cache[src]; ok {
		return t, nil
	}
	t, err := template.New("t").Funcs(funcs).Option("missingkey=zero").Parse(src)
	if err != nil {
		return nil, err
	}
	if len(r.cache) >= maxCached {
		clear(r.cache)
	}
	r.cache[src] = t
	return t, nil
}

// Check reports whether src parses.
func (r *Renderer) Check(src string) error {
	_, err := r.compile(src)
	return err
}

// Render executes src against data. Missing keys render as empty strings.
func (r *Renderer) Render(src string, data map[string]any) (string, error) {
	t, err := r.compile(src)
	if err != nil {
		return "", fmt.Errorf("render: parse: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render: execute: %w", err)
	}
	return strings.ReplaceAll(buf.String(), noValue, ""), nil
}
