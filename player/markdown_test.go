package player

import "testing"

func TestEscapeMarkdown(t *testing.T) {
	cases := []struct {
		name string
		in   string
		opts EscapeOptions
		want string
	}{
		{"plain", "hello world", DefaultEscape, "hello world"},
		{"bold", "**bold**", DefaultEscape, `\*\*bold\*\*`},
		{"italic", "a *b* and _c_", DefaultEscape, `a \*b\* and \_c\_`},
		{"underline", "__under__", DefaultEscape, `\_\_under\_\_`},
		{"strikethrough", "~~gone~~", DefaultEscape, `\~\~gone\~\~`},
		{"spoiler", "||secret||", DefaultEscape, `\|\|secret\|\|`},
		{"mixed", "**a** _b_ ~~c~~", DefaultEscape, `\*\*a\*\* \_b\_ \~\~c\~\~`},
		{
			"inline code content preserved",
			"see `code **x**` here",
			DefaultEscape,
			"see `code **x**` here",
		},
		{
			"code block content preserved",
			"```\n**x**\n```",
			DefaultEscape,
			"```\n**x**\n```",
		},
		{
			"stray fence escaped",
			"``` abc",
			DefaultEscape,
			`\` + "`" + `\` + "`" + `\` + "`" + ` abc`,
		},
		{
			"stray backtick escaped",
			"a ` b",
			DefaultEscape,
			`a \` + "`" + ` b`,
		},
		{
			"already escaped copied through",
			`\*\*a\*\*`,
			DefaultEscape,
			`\*\*a\*\*`,
		},
		{
			"partially escaped balanced out",
			`\*\*a**`,
			DefaultEscape,
			`\*\*a\*\*`,
		},
		{
			"bold only leaves italic live",
			"*x* **y**",
			EscapeOptions{Bold: true},
			`*x* \*\*y\*\*`,
		},
		{
			"inline code content escaped when asked",
			"`**x**`",
			EscapeOptions{InlineCode: true, InlineCodeContent: true, Bold: true},
			`\` + "`" + `\*\*x\*\*\` + "`",
		},
		{
			"empty span",
			"``",
			DefaultEscape,
			"``",
		},
		{
			"trailing backslash",
			`tail\`,
			DefaultEscape,
			`tail\`,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := EscapeMarkdown(c.in, c.opts); got != c.want {
				t.Errorf("EscapeMarkdown(%q) = %q, want %q", c.in, got, c.want)
			}
		})
	}
}

// Escaping must be a fixed point: applying it to its own output changes
// nothing, for every marker set.
func TestEscapeMarkdownIdempotent(t *testing.T) {
	inputs := []string{
		"",
		"plain text",
		"**bold** and *italic* and _under_",
		"__u__ ~~s~~ ||sp||",
		"`code *x*` outside **y**",
		"```fence **z**``` tail ~~w~~",
		"``` stray fence *a*",
		"lonely ` tick",
		`pre\*escaped\* mixed **live**`,
		`tail\`,
		"*_~|`*_~|",
	}
	optSets := []EscapeOptions{
		DefaultEscape,
		{Bold: true, Italic: true},
		{InlineCode: true, InlineCodeContent: true, Italic: true},
		{CodeBlock: true, CodeBlockContent: true, Bold: true},
		{Spoiler: true, Strikethrough: true},
	}
	for _, opts := range optSets {
		for _, in := range inputs {
			once := EscapeMarkdown(in, opts)
			twice := EscapeMarkdown(once, opts)
			if once != twice {
				t.Errorf("not idempotent for %q with %+v:\n once:  %q\n twice: %q", in, opts, once, twice)
			}
		}
	}
}
