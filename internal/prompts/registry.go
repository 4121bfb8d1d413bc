package prompts

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/mscottkey/fable-engine/internal/story"
)

// ErrTemplateNotFound is returned when a template ID has no registration.
// Callers must treat this as a hard error, never substitute silently.
var ErrTemplateNotFound = errors.New("prompt template not found")

// Template is a prompt body with {{variable}} placeholders.
type Template struct {
	ID        string   `json:"id"`
	Content   string   `json:"content"`
	Variables []string `json:"variables"`
}

// Registry resolves versioned template IDs to bodies. It is constructed once
// at process start and passed to collaborators explicitly.
//
// ID scheme:
//
//	phaseN/{system|user|repair}@vX
//	phaseN/{regen|remix}/<name>@vX
//	runtime/<name>/{system|user}@vX
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

func NewRegistry() *Registry {
	return &Registry{templates: make(map[string]*Template)}
}

// Register adds or replaces a template, extracting its variable list.
func (r *Registry) Register(id, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[id] = &Template{
		ID:        id,
		Content:   content,
		Variables: ParseVariables(content),
	}
}

// Get retrieves a template by ID.
func (r *Registry) Get(id string) (*Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tmpl, ok := r.templates[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}
	return tmpl, nil
}

var varPattern = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Render substitutes {{variable}} placeholders from vars. Placeholders with
// no binding are replaced with an empty string so prompt text never leaks
// raw template syntax to the model.
func (r *Registry) Render(id string, vars map[string]string) (string, error) {
	tmpl, err := r.Get(id)
	if err != nil {
		return "", err
	}

	result := varPattern.ReplaceAllStringFunc(tmpl.Content, func(match string) string {
		name := varPattern.FindStringSubmatch(match)[1]
		return vars[name]
	})
	return strings.TrimSpace(result), nil
}

// ParseVariables extracts the unique placeholder names from a template body.
func ParseVariables(content string) []string {
	matches := varPattern.FindAllStringSubmatch(content, -1)
	seen := make(map[string]bool)
	var vars []string
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			vars = append(vars, m[1])
		}
	}
	return vars
}

const defaultVersion = "v1"

// PhaseID builds a template ID like "phase3/system@v1".
func PhaseID(phase story.Phase, role string) string {
	return fmt.Sprintf("phase%d/%s@%s", int(phase), role, defaultVersion)
}

// OpID builds a template ID like "phase3/regen/faction@v1".
func OpID(phase story.Phase, op story.Operation, name string) string {
	return fmt.Sprintf("phase%d/%s/%s@%s", int(phase), op, name, defaultVersion)
}

// RuntimeID builds a template ID like "runtime/narration/system@v1".
func RuntimeID(name, role string) string {
	return fmt.Sprintf("runtime/%s/%s@%s", name, role, defaultVersion)
}
