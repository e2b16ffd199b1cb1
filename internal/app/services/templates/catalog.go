package templates

import "github.com/blackroad/roadtemplates/internal/app/domain/template"

// BuiltinTemplates returns the stock email catalog: a welcome email
// and a password reset email, both in English. The service seeds them
// on startup when configured to.
func BuiltinTemplates() []template.Template {
	return []template.Template{welcomeEmail(), passwordResetEmail()}
}

func welcomeEmail() template.Template {
	return template.Template{
		ID:      "email.welcome",
		Name:    "Welcome Email",
		Type:    template.TypeEmail,
		Format:  template.FormatJinja2,
		Locale:  "en",
		Subject: "Welcome to {{ app_name }}, {{ user.name }}!",
		Body: `Hi {{ user.name }},

Welcome to {{ app_name }}! We're excited to have you on board.

Your account has been created with the email: {{ user.email }}

{% if verification_link %}
Please verify your email by clicking the link below:
{{ verification_link }}
{% endif %}

Best regards,
The {{ app_name }} Team`,
		HTMLBody: `<!DOCTYPE html>
<html>
<head><style>body{font-family:Arial,sans-serif;}</style></head>
<body>
<h1>Welcome to {{ app_name }}!</h1>
<p>Hi {{ user.name }},</p>
<p>We're excited to have you on board.</p>
{% if verification_link %}
<p><a href="{{ verification_link }}">Verify your email</a></p>
{% endif %}
<p>Best regards,<br>The {{ app_name }} Team</p>
</body>
</html>`,
		Variables: []template.Variable{
			{Name: "user", VarType: "object", Required: true},
			{Name: "app_name", VarType: "string", Default: "BlackRoad"},
			{Name: "verification_link", VarType: "string"},
		},
		Metadata: map[string]any{"category": "onboarding"},
	}
}

func passwordResetEmail() template.Template {
	return template.Template{
		ID:      "email.password_reset",
		Name:    "Password Reset Email",
		Type:    template.TypeEmail,
		Format:  template.FormatJinja2,
		Locale:  "en",
		Subject: "Reset your {{ app_name }} password",
		Body: `Hi {{ user.name }},

We received a request to reset your password.

Click the link below to reset your password:
{{ reset_link }}

This link will expire in {{ expiry_hours }} hours.

If you didn't request this, please ignore this email.

Best regards,
The {{ app_name }} Team`,
		Variables: []template.Variable{
			{Name: "user", VarType: "object", Required: true},
			{Name: "reset_link", VarType: "string", Required: true},
			{Name: "expiry_hours", VarType: "number", Default: 24},
			{Name: "app_name", VarType: "string", Default: "BlackRoad"},
		},
		Metadata: map[string]any{"category": "auth"},
	}
}
