package player

import "strings"

// EscapeOptions selects which Discord emphasis markers EscapeMarkdown
// neutralizes. CodeBlockContent/InlineCodeContent additionally escape the
// text inside fenced and inline code spans; by default span contents are
// preserved verbatim.
type EscapeOptions struct {
	CodeBlock         bool
	InlineCode        bool
	Bold              bool
	Italic            bool
	Underline         bool
	Strikethrough     bool
	Spoiler           bool
	CodeBlockContent  bool
	InlineCodeContent bool
}

// DefaultEscape escapes every emphasis marker but leaves code span
// contents alone.
var DefaultEscape = EscapeOptions{
	CodeBlock:     true,
	InlineCode:    true,
	Bold:          true,
	Italic:        true,
	Underline:     true,
	Strikethrough: true,
	Spoiler:       true,
}

// EscapeMarkdown prefixes live emphasis markers with a backslash so the
// rendering surface shows them literally. Balanced code spans stay live and
// their contents untouched unless the matching *Content option is set.
// Already-escaped sequences are copied through, which makes the transform a
// fixed point under re-application.
func EscapeMarkdown(s string, opts EscapeOptions) string {
	var b strings.Builder
	b.Grow(len(s) + 16)
	for i := 0; i < len(s); {
		if s[i] == '\\' && i+1 < len(s) {
			b.WriteString(s[i : i+2])
			i += 2
			continue
		}
		if strings.HasPrefix(s[i:], "```") {
			end := indexUnescaped(s, i+3, "```")
			if end < 0 {
				// Stray fence with no closing pair renders as literal
				// backticks anyway once escaped.
				writeMarker(&b, "```", opts.CodeBlock)
				i += 3
				continue
			}
			if opts.CodeBlockContent {
				writeMarker(&b, "```", opts.CodeBlock)
				b.WriteString(EscapeMarkdown(s[i+3:end], opts))
				writeMarker(&b, "```", opts.CodeBlock)
			} else {
				b.WriteString(s[i : end+3])
			}
			i = end + 3
			continue
		}
		if s[i] == '`' {
			end := indexUnescaped(s, i+1, "`")
			if end < 0 {
				writeMarker(&b, "`", opts.InlineCode)
				i++
				continue
			}
			if opts.InlineCodeContent {
				writeMarker(&b, "`", opts.InlineCode)
				b.WriteString(EscapeMarkdown(s[i+1:end], opts))
				writeMarker(&b, "`", opts.InlineCode)
			} else {
				b.WriteString(s[i : end+1])
			}
			i = end + 1
			continue
		}
		switch {
		case strings.HasPrefix(s[i:], "**") && opts.Bold:
			b.WriteString(`\*\*`)
			i += 2
		case strings.HasPrefix(s[i:], "__") && opts.Underline:
			b.WriteString(`\_\_`)
			i += 2
		case strings.HasPrefix(s[i:], "~~") && opts.Strikethrough:
			b.WriteString(`\~\~`)
			i += 2
		case strings.HasPrefix(s[i:], "||") && opts.Spoiler:
			b.WriteString(`\|\|`)
			i += 2
		case s[i] == '*' && opts.Italic:
			b.WriteString(`\*`)
			i++
		case s[i] == '_' && opts.Italic:
			b.WriteString(`\_`)
			i++
		default:
			b.WriteByte(s[i])
			i++
		}
	}
	return b.String()
}

func writeMarker(b *strings.Builder, marker string, escape bool) {
	if !escape {
		b.WriteString(marker)
		return
	}
	for i := 0; i < len(marker); i++ {
		b.WriteByte('\\')
		b.WriteByte(marker[i])
	}
}

// indexUnescaped returns the index of the next occurrence of sep at or after
// from that is not preceded by a backslash, or -1.
func indexUnescaped(s string, from int, sep string) int {
	for i := from; i+len(sep) <= len(s); i++ {
		if s[i] == '\\' {
			i++
			continue
		}
		if strings.HasPrefix(s[i:], sep) {
			return i
		}
	}
	return -1
}
