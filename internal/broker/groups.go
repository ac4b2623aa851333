package broker

import (
	"regexp"
	"strings"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z\d-]`)

// Sanitize makes text safe to embed in a group name
func Sanitize(text string) string {
	return strings.ToLower(unsafeChars.ReplaceAllString(text, "_"))
}

// GroupName derives the group of a role within a scope. An empty code
// renders as "none".
func GroupName(role, key, code string) string {
	if code == "" {
		code = "none"
	}
	return role + "_" + Sanitize(key) + "_" + code
}
