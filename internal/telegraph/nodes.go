package telegraph

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Node is either a string or a NodeElement.
type Node any

type NodeElement struct {
	Tag      string            `json:"tag"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Children []Node            `json:"children,omitempty"`
}

var (
	md = goldmark.New(goldmark.WithExtensions(extension.GFM))

	// Telegraph's tag set, plus the headings that get remapped below.
	policy = func() *bluemonday.Policy {
		p := bluemonday.NewPolicy()
		p.AllowElements(
			"a", "aside", "b", "blockquote", "br", "code", "em", "figcaption", "figure",
			"h1", "h2", "h3", "h4", "h5", "h6", "hr", "i", "img", "li", "ol", "p", "pre",
			"s", "strong", "u", "ul", "del",
		)
		p.AllowAttrs("href").OnElements("a")
		p.AllowAttrs("src").OnElements("img")
		p.AllowStandardURLs()
		return p
	}()

	// Tags Telegraph does not know, mapped onto ones it does.
	renames = map[string]string{
		"h1":  "h3",
		"h2":  "h3",
		"h5":  "h4",
		"h6":  "h4",
		"del": "s",
	}
)

// Markdown converts a markdown document into Telegraph content nodes.
func Markdown(src string) ([]Node, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		return nil, fmt.Errorf("error rendering markdown: %s", err)
	}

	return HTML(policy.Sanitize(buf.String()))
}

// HTML converts an already sanitized HTML fragment into content nodes.
func HTML(fragment string) ([]Node, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	parsed, err := html.ParseFragment(strings.NewReader(fragment), body)
	if err != nil {
		return nil, fmt.Errorf("error parsing html: %s", err)
	}

	return convert(parsed, false), nil
}

func convert(nodes []*html.Node, inPre bool) []Node {
	var out []Node
	for _, n := range nodes {
		switch n.Type {
		case html.TextNode:
			// Newlines between block elements carry nothing.
			if !inPre && strings.TrimSpace(n.Data) == "" && isBlockGap(n) {
				continue
			}
			out = append(out, n.Data)
		case html.ElementNode:
			out = append(out, element(n, inPre))
		}
	}
	return out
}

func element(n *html.Node, inPre bool) NodeElement {
	tag := n.Data
	if to, ok := renames[tag]; ok {
		tag = to
	}

	el := NodeElement{Tag: tag}
	for _, a := range n.Attr {
		if a.Key != "href" && a.Key != "src" {
			continue
		}
		if el.Attrs == nil {
			el.Attrs = make(map[string]string, 1)
		}
		el.Attrs[a.Key] = a.Val
	}

	var children []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		children = append(children, c)
	}
	el.Children = convert(children, inPre || tag == "pre")

	return el
}

// Whitespace text directly under the root or a list container.
func isBlockGap(n *html.Node) bool {
	if n.Parent == nil {
		return true
	}
	switch n.Parent.Data {
	case "body", "ul", "ol", "blockquote", "figure", "aside":
		return true
	}
	return false
}
