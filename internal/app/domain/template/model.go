// Package template defines the template domain model: typed, versioned
// documents with declared variables, stored per locale and rendered
// against a caller-supplied context.
package template

import "time"

// Type classifies what a template produces.
type Type string

const (
	TypeEmail    Type = "email"
	TypePush     Type = "push"
	TypeSMS      Type = "sms"
	TypePDF      Type = "pdf"
	TypeHTML     Type = "html"
	TypeText     Type = "text"
	TypeMarkdown Type = "markdown"
)

// Known reports whether t is one of the supported template types.
func (t Type) Known() bool {
	switch t {
	case TypeEmail, TypePush, TypeSMS, TypePDF, TypeHTML, TypeText, TypeMarkdown:
		return true
	}
	return false
}

// Format selects the rendering syntax of a template body.
type Format string

const (
	FormatJinja2   Format = "jinja2"
	FormatMustache Format = "mustache"
	FormatPlain    Format = "plain"
)

// Known reports whether f is one of the supported formats.
func (f Format) Known() bool {
	switch f {
	case FormatJinja2, FormatMustache, FormatPlain:
		return true
	}
	return false
}

// Variable declares a value a template expects in its render context.
// Default fills in when the caller omits the variable; Example feeds
// previews.
type Variable struct {
	Name        string
	VarType     string
	Description string
	Required    bool
	Default     any
	Example     any
}

// Template is a renderable document. Subject and HTMLBody are used by
// email templates and may themselves contain template syntax. Templates
// are keyed by ID and locale; the same ID can exist in several locales.
type Template struct {
	ID        string
	Name      string
	Type      Type
	Format    Format
	Subject   string
	Body      string
	HTMLBody  string
	Variables []Variable
	Locale    string
	Version   int
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RequiredVariables returns the names of variables that must be present
// in a render context.
func (t Template) RequiredVariables() []string {
	var names []string
	for _, v := range t.Variables {
		if v.Required {
			names = append(names, v.Name)
		}
	}
	return names
}

// VariableDefaults returns declared default values keyed by variable
// name. Variables without a default are omitted.
func (t Template) VariableDefaults() map[string]any {
	defaults := make(map[string]any)
	for _, v := range t.Variables {
		if v.Default != nil {
			defaults[v.Name] = v.Default
		}
	}
	return defaults
}

// Category returns the template's category from metadata, if set.
func (t Template) Category() string {
	if t.Metadata == nil {
		return ""
	}
	if c, ok := t.Metadata["category"].(string); ok {
		return c
	}
	return ""
}

// Rendered is the product of rendering a template: the final subject
// and bodies plus the context that produced them.
type Rendered struct {
	TemplateID string
	Subject    string
	Body       string
	HTMLBody   string
	Locale     string
	RenderedAt time.Time
	Variables  map[string]any
}

// ScriptFilter is a dynamically registered value filter: a JavaScript
// function body applied to template values by name, like the built-in
// filter set.
type ScriptFilter struct {
	Name      string
	Source    string
	CreatedAt time.Time
	UpdatedAt time.Time
}
