package docgen

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

func parse(src []byte) ast.Node {
	return goldmark.New().Parser().Parse(text.NewReader(src))
}

// StripFence removes a single code fence wrapping the whole document, which
// models add despite instructions, and trims surrounding whitespace. Only a
// document whose sole block is a markdown or untagged fence is unwrapped.
func StripFence(doc string) string {
	doc = strings.TrimSpace(doc)
	src := []byte(doc)
	root := parse(src)
	if root.ChildCount() != 1 {
		return doc
	}
	fence, ok := root.FirstChild().(*ast.FencedCodeBlock)
	if !ok || !(strings.HasSuffix(doc, "```") || strings.HasSuffix(doc, "~~~")) {
		return doc
	}
	switch lang := strings.ToLower(string(fence.Language(src))); lang {
	case "", "md", "markdown":
	default:
		return doc
	}
	return strings.TrimSpace(string(fence.Lines().Value(src)))
}

// HasContent reports whether doc parses to at least one block carrying text.
func HasContent(doc string) bool {
	src := []byte(doc)
	root := parse(src)
	found := false
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if found {
			return ast.WalkStop, nil
		}
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			if len(strings.TrimSpace(string(node.Segment.Value(src)))) > 0 {
				found = true
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock:
			if n.Lines().Len() > 0 {
				found = true
			}
		case *ast.RawHTML:
			if node.Segments.Len() > 0 {
				found = true
			}
		}
		return ast.WalkContinue, nil
	})
	return found
}
