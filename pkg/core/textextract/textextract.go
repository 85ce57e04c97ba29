// Package textextract reads financial tables out of a filing that has been
// converted to Markdown, for figures the tagged facts miss.
package textextract

import (
	"bytes"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"unit_economics/pkg/core/concept"
	"unit_economics/pkg/core/errors"
	"unit_economics/pkg/core/xbrl"
)

// MatchThreshold is the minimum label score for a row to be used.
const MatchThreshold = 0.6

// headerScanRows is how many leading rows may carry year headers.
const headerScanRows = 3

var yearRe = regexp.MustCompile(`\b(199\d|20[0-3]\d)\b`)

// Row is one labelled line of a table; Values is keyed by year and already
// scaled.
type Row struct {
	Label  string
	Values map[int]float64
}

// Table is a parsed table with at least one year column.
type Table struct {
	Scale float64
	Rows  []Row
}

// Document holds every year-bearing table of a converted filing.
type Document struct {
	Tables  []Table
	aliases *concept.AliasTable
}

// Parse reads Markdown with GFM tables. A nil alias table means the
// defaults; aliases widen the labels a concept query matches.
func Parse(markdown []byte, aliases *concept.AliasTable) *Document {
	if aliases == nil {
		aliases = concept.DefaultAliases()
	}
	src := []byte(CleanMarkdown(string(markdown)))
	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	root := md.Parser().Parse(text.NewReader(src))

	doc := &Document{aliases: aliases}
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		tbl, ok := n.(*extast.Table)
		if !ok {
			return ast.WalkContinue, nil
		}
		if t, ok := parseTable(tbl, src); ok {
			doc.Tables = append(doc.Tables, t)
		}
		return ast.WalkSkipChildren, nil
	})
	return doc
}

// Open reads and parses a Markdown file.
func Open(path string, aliases *concept.AliasTable) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return Parse(data, aliases), nil
}

// CleanMarkdown strips an outer code fence around the whole document.
func CleanMarkdown(input string) string {
	cleaned := strings.TrimSpace(input)
	if strings.HasPrefix(cleaned, "```") && strings.HasSuffix(cleaned, "```") && len(cleaned) >= 6 {
		cleaned = strings.TrimPrefix(cleaned, "```markdown")
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(cleaned, "```")
		cleaned = strings.TrimSpace(cleaned)
	}
	return cleaned
}

func parseTable(tbl *extast.Table, src []byte) (Table, bool) {
	var rows [][]string
	for row := tbl.FirstChild(); row != nil; row = row.NextSibling() {
		var cells []string
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			cells = append(cells, nodeText(cell, src))
		}
		rows = append(rows, cells)
	}
	if len(rows) < 2 {
		return Table{}, false
	}

	years := make(map[int]int)
	var header []string
	start := 0
	for i := 0; i < len(rows) && i < headerScanRows; i++ {
		found := false
		for col, cell := range rows[i] {
			if m := yearRe.FindAllString(cell, -1); len(m) > 0 {
				y, _ := strconv.Atoi(m[len(m)-1])
				years[col] = y
				found = true
			}
		}
		if found {
			start = i + 1
		}
		header = append(header, rows[i]...)
	}
	if len(years) == 0 {
		return Table{}, false
	}
	header = append(header, precedingText(tbl, src))

	t := Table{Scale: detectScale(header)}
	for _, cells := range rows[start:] {
		label := firstNonEmpty(cells)
		if label == "" {
			continue
		}
		r := Row{Label: label, Values: make(map[int]float64)}
		for col, y := range years {
			if col >= len(cells) {
				continue
			}
			if v, ok := xbrl.ParseNumber(cells[col]); ok {
				r.Values[y] = v * t.Scale
			}
		}
		if len(r.Values) > 0 {
			t.Rows = append(t.Rows, r)
		}
	}
	return t, len(t.Rows) > 0
}

func nodeText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := c.(type) {
		case *ast.Text:
			buf.Write(v.Segment.Value(src))
			if v.SoftLineBreak() || v.HardLineBreak() {
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(v.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(buf.String())
}

// precedingText is the text of the block just before the table, where
// captions like "(in millions)" usually sit.
func precedingText(n ast.Node, src []byte) string {
	prev := n.PreviousSibling()
	if prev == nil {
		return ""
	}
	return nodeText(prev, src)
}

func detectScale(lines []string) float64 {
	all := strings.ToLower(strings.Join(lines, " "))
	switch {
	case strings.Contains(all, "in millions"), strings.Contains(all, "(millions)"):
		return 1e6
	case strings.Contains(all, "in thousands"), strings.Contains(all, "(thousands)"):
		return 1e3
	case strings.Contains(all, "in billions"), strings.Contains(all, "(billions)"):
		return 1e9
	}
	return 1
}

func firstNonEmpty(cells []string) string {
	for _, c := range cells {
		if s := strings.TrimSpace(c); s != "" {
			return s
		}
	}
	return ""
}

// ===== Matching =====

// Match finds the best row for a concept or free-text label across all
// tables. The concept's aliases are tried alongside the query itself.
func (d *Document) Match(query string) (Row, float64, bool) {
	queries := append([]string{query}, d.aliases.Aliases(query)...)
	if canonical, ok := d.aliases.Lookup(query); ok && canonical != query {
		queries = append(queries, canonical)
		queries = append(queries, d.aliases.Aliases(canonical)...)
	}

	var best Row
	bestScore := 0.0
	for _, t := range d.Tables {
		for _, r := range t.Rows {
			for _, q := range queries {
				if s := labelScore(q, r.Label); s > bestScore {
					best, bestScore = r, s
				}
			}
		}
	}
	return best, bestScore, bestScore >= MatchThreshold
}

// Extract returns year -> value for the best-matching row, or nil.
func (d *Document) Extract(query string) map[int]float64 {
	r, _, ok := d.Match(query)
	if !ok {
		return nil
	}
	out := make(map[int]float64, len(r.Values))
	for y, v := range r.Values {
		out[y] = v
	}
	return out
}

// labelScore is |q ∩ l| / max(|q|, |l|) over normalised words.
func labelScore(query, label string) float64 {
	q, l := words(query), words(label)
	if len(q) == 0 || len(l) == 0 {
		return 0
	}
	n := 0
	for w := range q {
		if _, ok := l[w]; ok {
			n++
		}
	}
	den := len(q)
	if len(l) > den {
		den = len(l)
	}
	return float64(n) / float64(den)
}

var nonWord = regexp.MustCompile(`[^a-z0-9]+`)

// words lower-cases, splits CamelCase and punctuation, and drops a plural s.
func words(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, chunk := range strings.Fields(s) {
		parts := concept.Tokenize(chunk)
		if len(parts) == 0 {
			parts = []string{chunk}
		}
		for _, p := range parts {
			for _, w := range nonWord.Split(strings.ToLower(p), -1) {
				if len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") {
					w = strings.TrimSuffix(w, "s")
				}
				if w != "" {
					out[w] = struct{}{}
				}
			}
		}
	}
	return out
}
