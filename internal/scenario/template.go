package scenario

import (
	"bytes"
	"fmt"
	"math/rand"
	"strings"
	"text/template"

	"github.com/google/uuid"

	"github.com/wesleyorama2/surge/internal/state"
)

const letters = "abcdefghijklmnopqrstuvwxyz0123456789"

// TemplateEngine parses step templates with the helper functions bound to
// the pools of one run.
type TemplateEngine struct {
	funcMap template.FuncMap
}

// NewTemplateEngine creates an engine whose pool helper reads from pools.
func NewTemplateEngine(pools *state.Store) *TemplateEngine {
	e := &TemplateEngine{}
	e.funcMap = template.FuncMap{
		"randomString": randomString,
		"randomInt":    randomInt,
		"randomEmail":  randomEmail,
		"randomChoice": randomChoice,
		"uuid":         randomUUID,
		"pool": func(name string) (string, error) {
			if pools == nil {
				return "", fmt.Errorf("pool %q: no pools available", name)
			}
			p, ok := pools.Lookup(name)
			if !ok {
				return "", fmt.Errorf("pool %q is empty", name)
			}
			id, ok := p.Random(nil)
			if !ok {
				return "", fmt.Errorf("pool %q is empty", name)
			}
			return id, nil
		},
	}
	return e
}

// Template is a compiled string. Strings without actions render verbatim.
type Template struct {
	raw  string
	tmpl *template.Template
}

// Parse compiles text. Unknown variables fail at render time.
func (e *TemplateEngine) Parse(name, text string) (*Template, error) {
	if !strings.Contains(text, "{{") {
		return &Template{raw: text}, nil
	}
	t, err := template.New(name).Funcs(e.funcMap).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", name, err)
	}
	return &Template{raw: text, tmpl: t}, nil
}

// Render executes the template against the iteration variables.
func (t *Template) Render(vars map[string]string) (string, error) {
	if t == nil {
		return "", nil
	}
	if t.tmpl == nil {
		return t.raw, nil
	}
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, vars); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// String returns the source text.
func (t *Template) String() string {
	if t == nil {
		return ""
	}
	return t.raw
}

func randomString(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}

// randomInt returns a value in [min, max], both inclusive.
func randomInt(min, max int) int {
	if max < min {
		min, max = max, min
	}
	return min + rand.Intn(max-min+1)
}

func randomEmail() string {
	return fmt.Sprintf("user_%s@example.com", randomString(8))
}

func randomChoice(choices ...string) string {
	if len(choices) == 0 {
		return ""
	}
	return choices[rand.Intn(len(choices))]
}

func randomUUID() string {
	return uuid.New().String()
}
