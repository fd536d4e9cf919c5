// Package prompt turns stored templates into final prompt text and measures it.
package prompt

import "regexp"

var placeholder = regexp.MustCompile(`{{\s*([a-zA-Z0-9_]+)\s*}}`)

// Render replaces every {{ name }} placeholder in body with vars[name].
// Unknown names render as the empty string. Substituted values are not
// rescanned, so a value containing "{{x}}" is emitted literally.
func Render(body string, vars map[string]string) string {
	return placeholder.ReplaceAllStringFunc(body, func(match string) string {
		name := placeholder.FindStringSubmatch(match)[1]
		return vars[name]
	})
}
