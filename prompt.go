package enhance

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tyler-sommer/stick"
)

// DefaultPromptLabel selects the built-in batch rewrite template.
const DefaultPromptLabel = "batch_enhance"

// itemMarker and enhancedMarker delimit chunks inside one composite prompt
// and its response so the answer can be split back per chunk.
const (
	itemMarker     = "Item %d:"
	enhancedMarker = "Enhanced Item"
)

var enhancedItemPattern = regexp.MustCompile(`(?m)Enhanced Item \d+\s*:`)

const defaultBatchTemplate = `{{ instructions }}

Tone: {{ tone }}
Output type: {{ output_type }}

Please rewrite the following content items in the requested tone, keeping their individual structure:

{{ items }}

Return the rewritten versions in the same order, clearly separated and labeled as "Enhanced Item 1:", "Enhanced Item 2:", and so on.`

// PromptBuilder renders composite batch prompts from Twig templates. Tone
// and output type are opaque labels substituted into the template.
type PromptBuilder struct {
	env       *stick.Env
	templates map[string]string
	vars      map[string]stick.Value
}

// PromptOption configures a PromptBuilder.
type PromptOption func(*PromptBuilder) error

// WithTemplateFS loads every *.twig file found under dir in the supplied FS.
func WithTemplateFS(fsys fs.FS, dir string) PromptOption {
	return func(p *PromptBuilder) error {
		return fs.WalkDir(fsys, dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(path, ".twig") {
				return nil
			}
			content, readErr := fs.ReadFile(fsys, path)
			if readErr != nil {
				return fmt.Errorf("read %s: %w", path, readErr)
			}
			tag := strings.TrimSuffix(filepath.Base(path), ".twig")
			p.templates[tag] = string(content)
			return nil
		})
	}
}

// WithTemplate updates or inserts one template.
func WithTemplate(tag, tpl string) PromptOption {
	return func(p *PromptBuilder) error {
		p.templates[tag] = tpl
		return nil
	}
}

// WithPromptVar adds a variable available in all templates, e.g. a custom
// instructions preamble.
func WithPromptVar(key string, value interface{}) PromptOption {
	return func(p *PromptBuilder) error {
		p.vars[key] = value
		return nil
	}
}

// NewPromptBuilder builds a provider from any combination of options. The
// built-in batch template is always present under DefaultPromptLabel unless
// an option overrides it.
func NewPromptBuilder(opts ...PromptOption) (*PromptBuilder, error) {
	p := &PromptBuilder{
		env:       stick.New(nil),
		templates: map[string]string{DefaultPromptLabel: defaultBatchTemplate},
		vars:      make(map[string]stick.Value),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// BuildBatchPrompt renders the composite prompt for one batch: the template
// for label with tone/output-type labels and every chunk's text embedded
// behind "Item N:" delimiters.
func (p *PromptBuilder) BuildBatchPrompt(label, tone, outputType string, chunks []ContentChunk) (string, error) {
	if label == "" {
		label = DefaultPromptLabel
	}
	tpl, ok := p.templates[label]
	if !ok {
		return "", fmt.Errorf("template %q not found", label)
	}

	var items strings.Builder
	for i, c := range chunks {
		if i > 0 {
			items.WriteString("\n\n")
		}
		fmt.Fprintf(&items, itemMarker+" %s", i+1, c.Text)
	}

	templateCtx := map[string]stick.Value{
		"instructions": "You are an expert content rewriter.",
		"tone":         tone,
		"output_type":  outputType,
		"items":        items.String(),
		"item_count":   len(chunks),
	}
	for k, v := range p.vars {
		templateCtx[k] = v
	}

	var out strings.Builder
	if err := p.env.Execute(tpl, &out, templateCtx); err != nil {
		return "", fmt.Errorf("execute %q: %w", label, err)
	}
	return out.String(), nil
}

// ParseBatchResponse splits a composite response back into per-chunk
// segments. The "Enhanced Item N:" markers are tried first; when they don't
// yield exactly want segments, a blank-line split is the fallback. The
// returned slice holds at most want segments; callers synthesize failures
// for anything missing.
func ParseBatchResponse(text string, want int) []string {
	parts := enhancedItemPattern.Split(text, -1)
	if len(parts) > 0 && strings.TrimSpace(parts[0]) == "" {
		parts = parts[1:]
	}
	if len(parts) == want {
		out := make([]string, want)
		for i, part := range parts {
			out[i] = strings.TrimSpace(part)
		}
		return out
	}

	// Marker split failed; fall back to paragraph boundaries.
	fallback := strings.Split(strings.TrimSpace(text), "\n\n")
	out := make([]string, 0, want)
	for _, part := range fallback {
		if len(out) == want {
			break
		}
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
