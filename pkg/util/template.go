package util

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{([A-Za-z0-9_][A-Za-z0-9_.]*)\}`)

// RenderTemplate substitutes {name} and {dotted.path} placeholders in tmpl
// with values resolved from ctx. Dotted paths descend through nested maps.
// Placeholders that do not resolve render as "N/A". No code is evaluated.
func RenderTemplate(tmpl string, ctx map[string]interface{}) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		path := m[1 : len(m)-1]
		v, ok := lookupPath(ctx, path)
		if !ok || v == nil {
			return "N/A"
		}
		if s, isStr := v.(string); isStr {
			return s
		}
		return fmt.Sprintf("%v", v)
	})
}

func lookupPath(ctx map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var cur interface{} = ctx
	for _, p := range parts {
		switch node := cur.(type) {
		case map[string]interface{}:
			v, ok := node[p]
			if !ok {
				return nil, false
			}
			cur = v
		case map[string]string:
			v, ok := node[p]
			if !ok {
				return nil, false
			}
			cur = v
		default:
			return nil, false
		}
	}
	return cur, true
}
