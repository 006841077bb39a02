// Package extract turns stored documents into plain text. PDF and HTML
// get format-aware extraction; markdown is rendered then stripped;
// everything else is decoded as text with invalid bytes replaced.
package extract

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/ledongthuc/pdf"
)

// Text extracts plain text from the file at path, dispatching on the
// file extension. Parse failures inside a document are captured as
// bracketed error text rather than returned as errors, so a partially
// corrupt file still yields something the caller can show.
func Text(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return fromPDF(path), nil
	case ".html", ".htm":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return FromHTML(string(data)), nil
	case ".md", ".markdown":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return fromMarkdown(data), nil
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return strings.ToValidUTF8(string(data), "�"), nil
	}
}

// fromPDF concatenates page text with page markers.
func fromPDF(path string) (out string) {
	defer func() {
		// The pdf package panics on some malformed files.
		if r := recover(); r != nil {
			out = fmt.Sprintf("[PDF ERROR: %v]", r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return fmt.Sprintf("[PDF ERROR: %v]", err)
	}
	defer f.Close()

	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			pages = append(pages, fmt.Sprintf("--- PAGE %d ---\n[PDF ERROR: %v]", i, err))
			continue
		}
		if strings.TrimSpace(text) != "" {
			pages = append(pages, fmt.Sprintf("--- PAGE %d ---\n%s", i, text))
		}
	}
	return strings.Join(pages, "\n")
}

// fromMarkdown renders markdown to HTML, then strips it to visible text.
func fromMarkdown(src []byte) string {
	var buf bytes.Buffer
	if err := goldmark.Convert(src, &buf); err != nil {
		return strings.ToValidUTF8(string(src), "�")
	}
	return FromHTML(buf.String())
}

// skipElements are HTML elements whose content is never visible text.
var skipElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Iframe:   true,
	atom.Head:     true,
}

// FromHTML parses HTML and returns script/style-stripped visible text.
func FromHTML(raw string) string {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return strings.ToValidUTF8(raw, "�")
	}

	var content strings.Builder
	visitText(doc, &content)
	return cleanWhitespace(content.String())
}

// visitText recursively collects visible text from the DOM.
func visitText(n *html.Node, w *strings.Builder) {
	if n.Type == html.ElementNode {
		if skipElements[n.DataAtom] {
			return
		}
		if isBlockElement(n.DataAtom) && w.Len() > 0 {
			w.WriteString("\n")
		}
	}

	if n.Type == html.TextNode {
		text := strings.TrimSpace(n.Data)
		if text != "" {
			w.WriteString(text)
			w.WriteString(" ")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		visitText(c, w)
	}

	if n.Type == html.ElementNode && (n.DataAtom == atom.Br || n.DataAtom == atom.Li) {
		w.WriteString("\n")
	}
}

func isBlockElement(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Section, atom.Article, atom.Main,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Blockquote, atom.Pre, atom.Ul, atom.Ol, atom.Table,
		atom.Tr, atom.Dl, atom.Hr:
		return true
	}
	return false
}

// cleanWhitespace collapses runs of blank lines and trailing spaces.
func cleanWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
