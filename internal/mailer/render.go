package mailer

import (
	"regexp"

	"github.com/microcosm-cc/bluemonday"
)

var placeholder = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

var strict = bluemonday.StrictPolicy()

// Render substitutes {key} placeholders with vars[key]. Placeholders with no
// value render as empty strings.
func Render(tpl string, vars map[string]string) string {
	return placeholder.ReplaceAllStringFunc(tpl, func(m string) string {
		return vars[m[1:len(m)-1]]
	})
}

// RenderHTML is Render for HTML bodies: values are stripped of markup and
// escaped before substitution, the template itself is kept verbatim.
func RenderHTML(tpl string, vars map[string]string) string {
	clean := make(map[string]string, len(vars))
	for k, v := range vars {
		clean[k] = strict.Sanitize(v)
	}
	return Render(tpl, clean)
}
