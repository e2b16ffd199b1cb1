// Package templates renders and manages notification templates. The
// engine supports a jinja2-style syntax (variables, filters, loops and
// conditionals) and a mustache-style syntax (sections and escaped
// variables), plus plain text passed through untouched.
package templates

import (
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/blackroad/roadtemplates/internal/app/domain/template"
)

// FilterFunc transforms a value inside a variable expression such as
// {{ price|currency('$') }}. A returned error leaves the value
// unfiltered rather than failing the whole render.
type FilterFunc func(value any, args ...any) (any, error)

var (
	jinjaForPattern = regexp.MustCompile(`(?s){%\s*for\s+(\w+)\s+in\s+(\w+(?:\.\w+)*)\s*%}(.*?){%\s*endfor\s*%}`)
	jinjaIfPattern  = regexp.MustCompile(`(?s){%\s*if\s+(.+?)\s*%}(.*?)(?:{%\s*else\s*%}(.*?))?{%\s*endif\s*%}`)
	jinjaVarPattern = regexp.MustCompile(`{{\s*(.+?)\s*}}`)

	mustacheRawPattern = regexp.MustCompile(`{{{(\.|\w+(?:\.\w+)*)}}}`)
	mustacheVarPattern = regexp.MustCompile(`{{(\.|\w+(?:\.\w+)*)}}`)
)

var comparisonOps = []string{"==", "!=", ">=", "<=", ">", "<"}

// Engine renders template strings against a context. It carries the
// filter registry and global variables shared by every render. Safe for
// concurrent use.
type Engine struct {
	mu      sync.RWMutex
	filters map[string]FilterFunc
	globals map[string]any
	epoch   uint64
}

// NewEngine constructs an engine with the built-in filter set.
func NewEngine() *Engine {
	return &Engine{
		filters: builtinFilters(),
		globals: make(map[string]any),
	}
}

// RegisterFilter adds or replaces a named filter.
func (e *Engine) RegisterFilter(name string, fn FilterFunc) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("filter name is required")
	}
	if fn == nil {
		return fmt.Errorf("filter function is required")
	}
	e.mu.Lock()
	e.filters[name] = fn
	e.epoch++
	e.mu.Unlock()
	return nil
}

// RemoveFilter drops a named filter. Removing a name that shadows a
// built-in restores the built-in.
func (e *Engine) RemoveFilter(name string) {
	e.mu.Lock()
	if builtin, ok := builtinFilters()[name]; ok {
		e.filters[name] = builtin
	} else {
		delete(e.filters, name)
	}
	e.epoch++
	e.mu.Unlock()
}

// FilterNames returns the names of every registered filter, sorted.
func (e *Engine) FilterNames() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.filters))
	for name := range e.filters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetGlobal sets a variable available to every render. Context values
// with the same name win.
func (e *Engine) SetGlobal(name string, value any) {
	e.mu.Lock()
	e.globals[name] = value
	e.epoch++
	e.mu.Unlock()
}

// Epoch increases whenever the filter registry or globals change, so
// cached render output keyed on it goes stale with the engine state.
func (e *Engine) Epoch() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.epoch
}

// Render renders the template's subject, body and HTML body against
// the context. Variable defaults fill in missing values first; a
// required variable still absent afterwards fails the render.
func (e *Engine) Render(tpl template.Template, context map[string]any) (template.Rendered, error) {
	full := tpl.VariableDefaults()
	for k, v := range context {
		full[k] = v
	}

	var missing []string
	for _, v := range tpl.Variables {
		if !v.Required {
			continue
		}
		if _, ok := full[v.Name]; !ok {
			missing = append(missing, v.Name)
		}
	}
	if len(missing) > 0 {
		return template.Rendered{}, fmt.Errorf("missing required variables: %s", strings.Join(missing, ", "))
	}

	rc, err := e.newRenderContext(full)
	if err != nil {
		return template.Rendered{}, fmt.Errorf("render context: %w", err)
	}

	out := template.Rendered{
		TemplateID: tpl.ID,
		Locale:     tpl.Locale,
		RenderedAt: time.Now().UTC(),
		Variables:  full,
	}
	if tpl.Subject != "" {
		out.Subject = e.renderContent(tpl.Format, tpl.Subject, rc)
	}
	out.Body = e.renderContent(tpl.Format, tpl.Body, rc)
	if tpl.HTMLBody != "" {
		out.HTMLBody = e.renderContent(tpl.Format, tpl.HTMLBody, rc)
	}
	return out, nil
}

// RenderString renders a single template string in the given format.
func (e *Engine) RenderString(format template.Format, content string, context map[string]any) (string, error) {
	rc, err := e.newRenderContext(context)
	if err != nil {
		return "", fmt.Errorf("render context: %w", err)
	}
	return e.renderContent(format, content, rc), nil
}

func (e *Engine) renderContent(format template.Format, content string, rc renderContext) string {
	switch format {
	case template.FormatJinja2:
		return e.renderJinja2(content, rc)
	case template.FormatMustache:
		return e.renderMustache(content, rc)
	default:
		return content
	}
}

// renderContext is an immutable snapshot of the variables visible to
// one render pass: the merged map plus its JSON form for path lookups.
type renderContext struct {
	data map[string]any
	doc  string
}

func (e *Engine) newRenderContext(data map[string]any) (renderContext, error) {
	e.mu.RLock()
	merged := make(map[string]any, len(e.globals)+len(data))
	for k, v := range e.globals {
		merged[k] = v
	}
	e.mu.RUnlock()
	for k, v := range data {
		merged[k] = v
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return renderContext{}, err
	}
	return renderContext{data: merged, doc: string(raw)}, nil
}

// child derives a context with extra bindings layered on top, used for
// loop iterations and mustache section scopes.
func (rc renderContext) child(extra map[string]any) renderContext {
	merged := make(map[string]any, len(rc.data)+len(extra))
	for k, v := range rc.data {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return rc
	}
	return renderContext{data: merged, doc: string(raw)}
}

func (rc renderContext) resolve(path string) gjson.Result {
	if path == "." {
		path = `\.`
	}
	return gjson.Get(rc.doc, path)
}

// renderJinja2 expands for loops, then conditionals, then variable
// expressions. Loop and conditional bodies are rendered recursively so
// the constructs nest across kinds.
func (e *Engine) renderJinja2(content string, rc renderContext) string {
	result := content

	for _, m := range jinjaForPattern.FindAllStringSubmatch(result, -1) {
		loopVar, itemsPath, body := m[1], m[2], m[3]

		var items []gjson.Result
		if r := rc.resolve(itemsPath); r.IsArray() {
			items = r.Array()
		}

		var sb strings.Builder
		for i, item := range items {
			child := rc.child(map[string]any{
				loopVar: item.Value(),
				"loop": map[string]any{
					"index":  i + 1,
					"index0": i,
					"first":  i == 0,
					"last":   i == len(items)-1,
					"length": len(items),
				},
			})
			sb.WriteString(e.renderJinja2(body, child))
		}
		result = strings.ReplaceAll(result, m[0], sb.String())
	}

	for _, m := range jinjaIfPattern.FindAllStringSubmatch(result, -1) {
		chosen := m[3]
		if e.evalCondition(m[1], rc) {
			chosen = m[2]
		}
		result = strings.ReplaceAll(result, m[0], e.renderJinja2(chosen, rc))
	}

	for _, m := range jinjaVarPattern.FindAllStringSubmatch(result, -1) {
		result = strings.ReplaceAll(result, m[0], e.renderExpression(m[1], rc))
	}

	return result
}

// renderMustache expands sections, inverted sections and variables.
// Raw {{{...}}} variables resolve before escaped {{...}} ones so the
// two-brace pass cannot consume the inner braces of a triple stache.
func (e *Engine) renderMustache(content string, rc renderContext) string {
	result := content

	for _, sec := range findMustacheSections(result, '#') {
		r := rc.resolve(sec.name)
		var replacement string
		switch {
		case r.IsArray():
			var sb strings.Builder
			items := r.Array()
			for _, item := range items {
				var child renderContext
				if obj, ok := item.Value().(map[string]any); ok {
					child = rc.child(obj)
				} else {
					child = rc.child(map[string]any{".": item.Value()})
				}
				sb.WriteString(e.renderMustache(sec.body, child))
			}
			replacement = sb.String()
		case truthyResult(r):
			replacement = e.renderMustache(sec.body, rc)
		}
		result = strings.ReplaceAll(result, sec.full, replacement)
	}

	for _, sec := range findMustacheSections(result, '^') {
		var replacement string
		if !truthyResult(rc.resolve(sec.name)) {
			replacement = e.renderMustache(sec.body, rc)
		}
		result = strings.ReplaceAll(result, sec.full, replacement)
	}

	for _, m := range mustacheRawPattern.FindAllStringSubmatch(result, -1) {
		result = strings.ReplaceAll(result, m[0], e.renderExpression(m[1], rc))
	}

	for _, m := range mustacheVarPattern.FindAllStringSubmatch(result, -1) {
		result = strings.ReplaceAll(result, m[0], html.EscapeString(e.renderExpression(m[1], rc)))
	}

	return result
}

// renderExpression resolves a variable path with optional piped
// filters, e.g. "user.name|upper|truncate(20)", to its final string.
func (e *Engine) renderExpression(expr string, rc renderContext) string {
	parts := strings.Split(expr, "|")
	r := rc.resolve(strings.TrimSpace(parts[0]))
	if len(parts) == 1 {
		return r.String()
	}
	value := r.Value()
	for _, filterExpr := range parts[1:] {
		value = e.applyFilter(value, strings.TrimSpace(filterExpr))
	}
	return stringify(value)
}

// applyFilter applies one filter expression. Unknown filters leave the
// value unchanged. A call that fails with arguments is retried without
// them; if that fails too the value passes through unfiltered.
func (e *Engine) applyFilter(value any, expr string) any {
	name, argsRaw, hasArgs := strings.Cut(expr, "(")
	name = strings.TrimSpace(name)

	e.mu.RLock()
	fn, ok := e.filters[name]
	e.mu.RUnlock()
	if !ok {
		return value
	}

	var args []any
	if hasArgs {
		parsed, err := parseFilterArgs(strings.TrimSuffix(strings.TrimSpace(argsRaw), ")"))
		if err == nil {
			args = parsed
		}
	}

	if len(args) > 0 {
		if out, err := fn(value, args...); err == nil {
			return out
		}
	}
	out, err := fn(value)
	if err != nil {
		return value
	}
	return out
}

// evalCondition evaluates a conditional expression: "not" prefixes,
// "and"/"or" connectives, the six comparison operators, or bare
// truthiness of a variable expression.
func (e *Engine) evalCondition(condition string, rc renderContext) bool {
	condition = strings.TrimSpace(condition)

	if rest, ok := strings.CutPrefix(condition, "not "); ok {
		return !e.evalCondition(rest, rc)
	}
	if left, right, ok := strings.Cut(condition, " and "); ok {
		return e.evalCondition(left, rc) && e.evalCondition(right, rc)
	}
	if left, right, ok := strings.Cut(condition, " or "); ok {
		return e.evalCondition(left, rc) || e.evalCondition(right, rc)
	}

	for _, op := range comparisonOps {
		if !strings.Contains(condition, op) {
			continue
		}
		parts := strings.SplitN(condition, op, 2)
		left := e.renderExpression(strings.TrimSpace(parts[0]), rc)
		right := strings.Trim(strings.TrimSpace(parts[1]), `'"`)

		switch op {
		case "==":
			return left == right
		case "!=":
			return left != right
		}

		lf, lerr := strconv.ParseFloat(left, 64)
		rf, rerr := strconv.ParseFloat(right, 64)
		if lerr != nil || rerr != nil {
			return false
		}
		switch op {
		case ">=":
			return lf >= rf
		case "<=":
			return lf <= rf
		case ">":
			return lf > rf
		default:
			return lf < rf
		}
	}

	return e.truthyExpr(condition, rc)
}

// truthyExpr checks a bare expression. A plain path is judged on its
// typed value; an expression with filters on its rendered string.
func (e *Engine) truthyExpr(expr string, rc renderContext) bool {
	if !strings.Contains(expr, "|") {
		return truthyResult(rc.resolve(expr))
	}
	return truthy(e.renderExpression(expr, rc))
}

func truthyResult(r gjson.Result) bool {
	switch r.Type {
	case gjson.Null:
		return false
	case gjson.False:
		return false
	case gjson.Number:
		return r.Num != 0
	case gjson.String:
		return truthy(r.Str)
	}
	if r.IsArray() {
		return len(r.Array()) > 0
	}
	if r.IsObject() {
		return len(r.Map()) > 0
	}
	return r.Exists()
}

type mustacheSection struct {
	full string
	name string
	body string
}

// findMustacheSections scans left to right for {{#name}}...{{/name}}
// (or {{^name}}) blocks, pairing each opener with the first closer of
// the same name. Matches do not overlap; openers without a closer are
// skipped.
func findMustacheSections(s string, kind byte) []mustacheSection {
	open := "{{" + string(kind)
	var sections []mustacheSection
	pos := 0
	for {
		start := strings.Index(s[pos:], open)
		if start < 0 {
			break
		}
		start += pos

		nameStart := start + len(open)
		nameEnd := nameStart
		for nameEnd < len(s) && isWordByte(s[nameEnd]) {
			nameEnd++
		}
		if nameEnd == nameStart || !strings.HasPrefix(s[nameEnd:], "}}") {
			pos = nameStart
			continue
		}

		name := s[nameStart:nameEnd]
		bodyStart := nameEnd + 2
		closer := "{{/" + name + "}}"
		rel := strings.Index(s[bodyStart:], closer)
		if rel < 0 {
			pos = nameStart
			continue
		}
		bodyEnd := bodyStart + rel

		sections = append(sections, mustacheSection{
			full: s[start : bodyEnd+len(closer)],
			name: name,
			body: s[bodyStart:bodyEnd],
		})
		pos = bodyEnd + len(closer)
	}
	return sections
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// parseFilterArgs parses a comma-separated argument list of quoted
// strings, numbers, booleans and null literals.
func parseFilterArgs(s string) ([]any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var (
		args  []any
		token strings.Builder
		quote byte
	)
	flush := func() error {
		raw := strings.TrimSpace(token.String())
		token.Reset()
		if raw == "" {
			return fmt.Errorf("empty filter argument")
		}
		v, err := parseFilterArg(raw)
		if err != nil {
			return err
		}
		args = append(args, v)
		return nil
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			token.WriteByte(c)
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
			token.WriteByte(c)
		case c == ',':
			if err := flush(); err != nil {
				return nil, err
			}
		default:
			token.WriteByte(c)
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated string in filter arguments")
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return args, nil
}

func parseFilterArg(raw string) (any, error) {
	if len(raw) >= 2 {
		first, last := raw[0], raw[len(raw)-1]
		if (first == '\'' && last == '\'') || (first == '"' && last == '"') {
			return raw[1 : len(raw)-1], nil
		}
	}
	switch raw {
	case "true", "True":
		return true, nil
	case "false", "False":
		return false, nil
	case "null", "nil", "None":
		return nil, nil
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n, nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f, nil
	}
	return nil, fmt.Errorf("unrecognized filter argument %q", raw)
}
