package httpserver

import (
	"strings"
	"unicode/utf8"
)

// maxQueryLen caps visitor questions; anything longer is noise or abuse.
const maxQueryLen = 4000

// SanitizeQuery normalizes a visitor question before validation.
func SanitizeQuery(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	input = strings.TrimSpace(input)
	if len(input) > maxQueryLen {
		input = input[:maxQueryLen]
	}
	if !utf8.ValidString(input) {
		input = strings.ToValidUTF8(input, "")
	}
	return input
}
