package markdown

import (
	"strings"
	"testing"
)

func TestRenderToHTML_BasicMarkdown(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		contains []string
	}{
		{
			name:     "headers",
			input:    "# Sessions\n## Recent",
			contains: []string{"<h1", "Sessions", "<h2", "Recent"},
		},
		{
			name:     "code inline",
			input:    "Run `sudocast convert` to export",
			contains: []string{"<code>sudocast convert</code>"},
		},
		{
			name:     "relative links",
			input:    "[cast](/sessions/00/00/01/cast)",
			contains: []string{`<a href="/sessions/00/00/01/cast"`, "cast</a>"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RenderToHTML(tt.input)

			for _, expected := range tt.contains {
				if !strings.Contains(result, expected) {
					t.Errorf("RenderToHTML() result doesn't contain expected substring.\nExpected: %q\nResult: %s", expected, result)
				}
			}
		})
	}
}

func TestRenderToHTML_XSSPrevention(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		shouldBlock string
	}{
		{name: "script tag", input: "<script>alert('xss')</script>", shouldBlock: "<script>"},
		{name: "onclick handler", input: "<a href=\"#\" onclick=\"alert('xss')\">Click me</a>", shouldBlock: "onclick"},
		{name: "javascript protocol", input: "[Click me](javascript:alert('xss'))", shouldBlock: "javascript:"},
		{name: "iframe", input: "<iframe src=\"http://evil.com\"></iframe>", shouldBlock: "<iframe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RenderToHTML(tt.input)

			if strings.Contains(result, tt.shouldBlock) {
				t.Errorf("XSS vector not blocked.\nInput: %s\nBlocked string: %q\nResult: %s",
					tt.input, tt.shouldBlock, result)
			}
		})
	}
}

func TestRenderToHTML_Empty(t *testing.T) {
	for _, input := range []string{"", "   \n\n   "} {
		if result := strings.TrimSpace(RenderToHTML(input)); result != "" {
			t.Errorf("RenderToHTML(%q) = %q, want empty string", input, result)
		}
	}
}

func TestTable(t *testing.T) {
	got := Table([]string{"User", "Command"}, [][]string{
		{"alice", "/bin/bash"},
		{"bob"},
	})
	want := "| User | Command |\n| --- | --- |\n| alice | /bin/bash |\n| bob |  |\n"
	if got != want {
		t.Errorf("Table() = %q, want %q", got, want)
	}

	if got := Table(nil, [][]string{{"x"}}); got != "" {
		t.Errorf("Table() without headers = %q, want empty string", got)
	}
}

func TestTable_Rendered(t *testing.T) {
	result := RenderToHTML(Table(
		[]string{"Start", "Command"},
		[][]string{{"1672531200", EscapeCell("grep a|b | wc -l")}},
	))

	expectedElements := []string{
		"<table>", "<thead>", "<tbody>", "<th>Start</th>",
		"<td>1672531200</td>",
		"grep a|b | wc -l",
	}
	for _, expected := range expectedElements {
		if !strings.Contains(result, expected) {
			t.Errorf("Table markdown missing expected element: %q\nResult: %s", expected, result)
		}
	}
	if strings.Count(result, "<td>") != 2 {
		t.Errorf("pipes in a cell must not create columns\nResult: %s", result)
	}
}

func TestEscapeCell(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{input: "plain", want: "plain"},
		{input: "a|b", want: `a\|b`},
		{input: "**x**", want: `\*\*x\*\*`},
		{input: "<script>", want: "&lt;script&gt;"},
		{input: "two\nlines", want: "two lines"},
		{input: `C:\dir`, want: `C:\\dir`},
	}

	for _, tt := range tests {
		if got := EscapeCell(tt.input); got != tt.want {
			t.Errorf("EscapeCell(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestLink(t *testing.T) {
	result := RenderToHTML(Link("pts/3 [root]", "/sessions/00/00/01"))
	if !strings.Contains(result, `<a href="/sessions/00/00/01"`) {
		t.Errorf("Link() not rendered as a link: %s", result)
	}
	if !strings.Contains(result, "pts/3 [root]</a>") {
		t.Errorf("Link() label not preserved: %s", result)
	}
}
