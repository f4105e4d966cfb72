package ingest

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Piece is one window of a file's text. Offsets are rune offsets into the
// decoded file content; consecutive pieces of a file overlap by exactly the
// configured overlap, except that the final piece may be shorter than the
// chunk size.
type Piece struct {
	Index   int
	Start   int
	End     int
	Content string
}

// blockSeparators are the language-specific boundary hints, tried before the
// generic blank-line/newline/space fallbacks. The cut lands after the
// leading newline so the marker opens the next window.
var blockSeparators = map[string][]string{
	".go":    {"\nfunc ", "\ntype ", "\nconst ", "\nvar "},
	".py":    {"\nclass ", "\ndef ", "\nasync def ", "\n\tdef ", "\n    def "},
	".js":    {"\nfunction ", "\nclass ", "\nexport ", "\nconst "},
	".jsx":   {"\nfunction ", "\nclass ", "\nexport ", "\nconst "},
	".ts":    {"\nfunction ", "\nclass ", "\nexport ", "\nconst "},
	".tsx":   {"\nfunction ", "\nclass ", "\nexport ", "\nconst "},
	".java":  {"\n    public ", "\n    private ", "\n    protected ", "\nclass "},
	".c":     {"\n}", "\nstatic ", "\nvoid ", "\nint "},
	".cpp":   {"\n}", "\nstatic ", "\nvoid ", "\nclass "},
	".cs":    {"\n    public ", "\n    private ", "\nclass "},
	".rs":    {"\nfn ", "\npub fn ", "\nimpl ", "\nstruct "},
	".rb":    {"\nclass ", "\ndef ", "\nmodule "},
	".php":   {"\nfunction ", "\nclass "},
	".swift": {"\nfunc ", "\nclass ", "\nstruct ", "\nextension "},
	".kt":    {"\nfun ", "\nclass ", "\nobject "},
	".scala": {"\ndef ", "\nclass ", "\nobject "},
	".sql":   {"\nCREATE ", "\nALTER ", "\nINSERT ", "\nSELECT "},
	".sh":    {"\nfunction ", "\n}"},
}

type Chunker struct {
	size    int
	overlap int
}

func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive")
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, size)")
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Split windows content into overlapping pieces. The same content and
// configuration always produce the same boundaries.
func (c *Chunker) Split(extension, content string) []Piece {
	runes := []rune(content)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= c.size {
		return []Piece{{Index: 0, Start: 0, End: len(runes), Content: content}}
	}

	var headings []int
	if extension == ".md" || extension == ".markdown" {
		headings = markdownHeadingOffsets(content)
	}
	separators := blockSeparators[extension]

	var pieces []Piece
	start := 0
	for {
		remaining := len(runes) - start
		if remaining <= c.size {
			pieces = append(pieces, Piece{
				Index:   len(pieces),
				Start:   start,
				End:     len(runes),
				Content: string(runes[start:]),
			})
			return pieces
		}
		end := start + c.size
		cut := c.findCut(runes, separators, headings, start, end)
		pieces = append(pieces, Piece{
			Index:   len(pieces),
			Start:   start,
			End:     cut,
			Content: string(runes[start:cut]),
		})
		start = cut - c.overlap
	}
}

// findCut picks the cut point in (start+overlap, end], preferring the latest
// boundary of the highest-priority kind: markdown headings, then language
// block markers, then blank line, newline, space, and finally a hard cut.
func (c *Chunker) findCut(runes []rune, separators []string, headings []int, start, end int) int {
	lo := start + c.overlap + 1

	best := -1
	for _, h := range headings {
		if h >= lo && h <= end && h > best {
			best = h
		}
	}
	if best > 0 {
		return best
	}

	for _, sep := range separators {
		// sep starts with '\n'; the cut goes right after that newline.
		if p := lastIndexRunes(runes, sep, lo-1, end-1); p >= 0 {
			return p + 1
		}
	}
	if p := lastIndexRunes(runes, "\n\n", lo-2, end-2); p >= 0 {
		return p + 2
	}
	if p := lastIndexRunes(runes, "\n", lo-1, end-1); p >= 0 {
		return p + 1
	}
	if p := lastIndexRunes(runes, " ", lo-1, end-1); p >= 0 {
		return p + 1
	}
	return end
}

// lastIndexRunes returns the largest p in [lo, hi] at which sep begins, or -1.
func lastIndexRunes(runes []rune, sep string, lo, hi int) int {
	sepRunes := []rune(sep)
	if lo < 0 {
		lo = 0
	}
	if hi+len(sepRunes) > len(runes) {
		hi = len(runes) - len(sepRunes)
	}
	for p := hi; p >= lo; p-- {
		match := true
		for i, r := range sepRunes {
			if runes[p+i] != r {
				match = false
				break
			}
		}
		if match {
			return p
		}
	}
	return -1
}

// markdownHeadingOffsets returns the rune offsets of the line starts of
// level 1-3 headings, in document order.
func markdownHeadingOffsets(content string) []int {
	source := []byte(content)
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(source))

	var byteOffsets []int
	_ = ast.Walk(doc, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		heading, ok := node.(*ast.Heading)
		if !ok || heading.Level > 3 || heading.Lines().Len() == 0 {
			return ast.WalkContinue, nil
		}
		seg := heading.Lines().At(0)
		lineStart := strings.LastIndexByte(content[:seg.Start], '\n') + 1
		byteOffsets = append(byteOffsets, lineStart)
		return ast.WalkSkipChildren, nil
	})
	if len(byteOffsets) == 0 {
		return nil
	}
	offsets := make([]int, 0, len(byteOffsets))
	for _, b := range byteOffsets {
		offsets = append(offsets, utf8.RuneCountInString(content[:b]))
	}
	return offsets
}
