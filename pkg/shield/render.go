package shield

import (
	"html/template"
	"io"
)

// Renderer writes a named template with data.
type Renderer interface {
	Render(w io.Writer, name string, data any) error
}

// TemplateRenderer renders from a parsed html/template set.
type TemplateRenderer struct {
	Templates *template.Template
}

// NewTemplateRenderer parses the files matched by pattern.
func NewTemplateRenderer(pattern string) (*TemplateRenderer, error) {
	t, err := template.ParseGlob(pattern)
	if err != nil {
		return nil, err
	}
	return &TemplateRenderer{Templates: t}, nil
}

// Render implements Renderer.
func (r *TemplateRenderer) Render(w io.Writer, name string, data any) error {
	return r.Templates.ExecuteTemplate(w, name, data)
}
