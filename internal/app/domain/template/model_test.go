package template

import "testing"

func TestRequiredVariables(t *testing.T) {
	tpl := Template{
		Variables: []Variable{
			{Name: "user", Required: true},
			{Name: "app_name", Default: "BlackRoad"},
			{Name: "verification_link", Required: true},
		},
	}

	got := tpl.RequiredVariables()
	if len(got) != 2 || got[0] != "user" || got[1] != "verification_link" {
		t.Fatalf("required variables = %v", got)
	}
}

func TestVariableDefaults(t *testing.T) {
	tpl := Template{
		Variables: []Variable{
			{Name: "user", Required: true},
			{Name: "app_name", Default: "BlackRoad"},
			{Name: "expiry_hours", Default: 24},
		},
	}

	defaults := tpl.VariableDefaults()
	if len(defaults) != 2 {
		t.Fatalf("defaults = %v", defaults)
	}
	if defaults["app_name"] != "BlackRoad" {
		t.Fatalf("app_name default = %v", defaults["app_name"])
	}
	if defaults["expiry_hours"] != 24 {
		t.Fatalf("expiry_hours default = %v", defaults["expiry_hours"])
	}
}

func TestCategory(t *testing.T) {
	tpl := Template{Metadata: map[string]any{"category": "onboarding"}}
	if tpl.Category() != "onboarding" {
		t.Fatalf("category = %q", tpl.Category())
	}

	if (Template{}).Category() != "" {
		t.Fatalf("empty template should have no category")
	}

	tpl = Template{Metadata: map[string]any{"category": 7}}
	if tpl.Category() != "" {
		t.Fatalf("non-string category should be ignored")
	}
}

func TestKnownTypeAndFormat(t *testing.T) {
	if !TypeEmail.Known() || !TypeMarkdown.Known() {
		t.Fatalf("expected builtin types to be known")
	}
	if Type("carrier-pigeon").Known() {
		t.Fatalf("unexpected type reported as known")
	}
	if !FormatJinja2.Known() || FormatPlain.Known() != true {
		t.Fatalf("expected builtin formats to be known")
	}
	if Format("handlebars").Known() {
		t.Fatalf("unexpected format reported as known")
	}
}
