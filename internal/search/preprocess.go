package search

import (
	"bufio"
	"io"
	"regexp"
	"strings"
)

// FlattenTables rewrites every Markdown table row of text into a standalone
// paragraph ("| a | b |" becomes "a b") and drops separator rows. Text
// without tables is returned unchanged.
func FlattenTables(text string) string {
	if !strings.Contains(text, "|") {
		return text
	}
	lines := strings.Split(text, "\n")
	var b strings.Builder
	b.Grow(len(text))
	for _, l := range lines {
		line := strings.TrimSpace(l)
		if !(strings.HasPrefix(line, "|") && strings.HasSuffix(line, "|") && len(line) > 1) {
			b.WriteString(l)
			b.WriteByte('\n')
			continue
		}
		cols := strings.Split(strings.Trim(line, "|"), "|")
		allSep := true
		cells := make([]string, 0, len(cols))
		for _, c := range cols {
			cell := strings.TrimSpace(c)
			if cell != "" {
				cells = append(cells, cell)
			}
			if strings.Trim(cell, ":- ") != "" {
				allSep = false
			}
		}
		if allSep || len(cells) == 0 {
			continue
		}
		b.WriteByte('\n')
		b.WriteString(strings.Join(cells, " "))
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Section is one headed block of a Markdown knowledge-base file.
type Section struct {
	Code  string // leading procedure code such as "SOP-07", if any
	Title string
	Body  string
}

var (
	headingRE = regexp.MustCompile(`^#{1,3}\s+(.+)$`)
	codeRE    = regexp.MustCompile(`^([A-Za-z]+-\d+)\s*[:.\-]?\s*(.*)$`)
)

// ParseMarkdown splits r into sections at #, ## and ### headings. Text before
// the first heading is ignored, as are headings with an empty body.
func ParseMarkdown(r io.Reader) ([]Section, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		out  []Section
		cur  *Section
		body strings.Builder
	)
	flush := func() {
		if cur == nil {
			return
		}
		cur.Body = strings.TrimSpace(body.String())
		if cur.Body != "" {
			out = append(out, *cur)
		}
		body.Reset()
	}
	for sc.Scan() {
		line := sc.Text()
		if m := headingRE.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			flush()
			cur = &Section{Title: strings.TrimSpace(m[1])}
			if c := codeRE.FindStringSubmatch(cur.Title); c != nil && strings.TrimSpace(c[2]) != "" {
				cur.Code, cur.Title = strings.ToUpper(c[1]), strings.TrimSpace(c[2])
			}
			continue
		}
		if cur != nil {
			body.WriteString(line)
			body.WriteByte('\n')
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	flush()
	return out, nil
}
