package config

import (
	"os"
)

// DefaultBodyTemplate is used when neither template nor template_inline is set.
const DefaultBodyTemplate = `### {{.process.name}} {{.event}}

- **Host:** {{.hostname}}
- **Date:** {{.date}}
- **Process id:** {{.process.pm_id}}
- **Triggered manually:** {{.manually}}
{{if .process.status}}- **Status:** {{.process.status}}
{{end}}
`

// BodyTemplate returns the body template source for cfg.
func BodyTemplate(cfg *Config, dir string) (string, error) {
	if cfg.TemplateInline != "" {
		return cfg.TemplateInline, nil
	}
	if cfg.Template == "" {
		return DefaultBodyTemplate, nil
	}
	p := ResolvePath(dir, cfg.Template)
	b, err := os.ReadFile(p)
	if err != nil {
		return "", &ConfigError{Path: "template", Err: err}
	}
	return string(b), nil
}
