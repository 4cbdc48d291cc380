// Package textnorm makes free text safe for Telegram MarkdownV2 messages.
package textnorm

import "strings"

// reserved are the characters MarkdownV2 requires to be escaped
const reserved = "_*[]()~`>#+-=|{}.!"

// DisplaySafeText is text that has already been escaped for display.
// Escape only accepts raw strings, so escaping twice does not type-check.
type DisplaySafeText string

func (t DisplaySafeText) String() string {
	return string(t)
}

// Escape escapes raw text for display
func Escape(raw string) DisplaySafeText {
	return DisplaySafeText(Normalize(raw))
}

// Join concatenates already escaped fragments
func Join(parts []DisplaySafeText, sep string) DisplaySafeText {
	strs := make([]string, len(parts))
	for i, p := range parts {
		strs[i] = string(p)
	}
	return DisplaySafeText(strings.Join(strs, string(Escape(sep))))
}

// Normalize escapes reserved characters. A backslash followed by a reserved
// character or another backslash is an existing escape and is kept as is, so
// Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	if s == "" || !needsWork(s) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + len(s)/4)

	rs := []rune(s)
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		switch {
		case r == '\\':
			if i+1 < len(rs) && (rs[i+1] == '\\' || isReserved(rs[i+1])) {
				b.WriteRune(r)
				b.WriteRune(rs[i+1])
				i++
				continue
			}
			b.WriteString(`\\`)
		case isReserved(r):
			b.WriteRune('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isReserved(r rune) bool {
	return strings.ContainsRune(reserved, r)
}

func needsWork(s string) bool {
	return strings.ContainsAny(s, reserved+`\`)
}
