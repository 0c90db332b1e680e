package search

import (
	"errors"
	"strings"
	"testing"
)

type boomReader struct{}

func (boomReader) Read(_ []byte) (int, error) { return 0, errors.New("boom") }

func TestFlattenTables(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"no table", "plain text\n\nmore", "plain text\n\nmore"},
		{"pipes but no row", "a | b", "a | b"},
		{
			"rows become paragraphs",
			"Intro\n| Code | Meaning |\n|:---|---:|\n| D01 | Damaged |\n|  | |\nOutro",
			"Intro\n\nCode Meaning\n\n\nD01 Damaged\n\nOutro",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := FlattenTables(tc.in); got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestParseMarkdown(t *testing.T) {
	md := `preamble is ignored

# SOP-01: Late pickup
Call the hub lead.

Escalate after 2h.

## Returns
Scan the label.

### SOP-9 Empty section
`
	got, err := ParseMarkdown(strings.NewReader(md))
	if err != nil {
		t.Fatalf("ParseMarkdown: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 sections, got %+v", got)
	}
	if got[0].Code != "SOP-01" || got[0].Title != "Late pickup" || got[0].Body != "Call the hub lead.\n\nEscalate after 2h." {
		t.Fatalf("unexpected first section: %+v", got[0])
	}
	if got[1].Code != "" || got[1].Title != "Returns" || got[1].Body != "Scan the label." {
		t.Fatalf("unexpected second section: %+v", got[1])
	}
}

func TestParseMarkdown_ReaderError(t *testing.T) {
	if _, err := ParseMarkdown(boomReader{}); err == nil {
		t.Fatalf("expected reader error")
	}
}
