// Package textfmt prepares notification bodies for the MAX message limits:
// markup is reduced to the tags the bot API renders, or flattened to plain
// text, and the result is cut to the maximum message length.
package textfmt

import (
	"io"
	"regexp"
	"strings"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"golang.org/x/net/html"
)

// MaxMessageRunes is the longest text the bot API accepts in one message.
const MaxMessageRunes = 4000

// AllowedTags are the elements the bot API renders in html format.
var AllowedTags = []string{"b", "strong", "i", "em", "a", "u", "ins", "s", "del", "code", "pre", "blockquote"}

var (
	allowed = func() map[string]bool {
		m := make(map[string]bool, len(AllowedTags))
		for _, t := range AllowedTags {
			m[t] = true
		}
		return m
	}()

	// content of these elements is dropped together with the tags
	dropContent = map[string]bool{"script": true, "style": true, "head": true, "title": true}

	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

	excessiveLines = regexp.MustCompile(`\n{3,}`)
)

// StripTags removes every element outside AllowedTags while keeping its text.
// Allowed elements lose all attributes except href on links.
func StripTags(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}

	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	b.Grow(len(s))
	skipDepth := 0

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if z.Err() != io.EOF {
				return s
			}
			return strings.TrimSpace(excessiveLines.ReplaceAllString(b.String(), "\n\n"))

		case html.TextToken:
			if skipDepth == 0 {
				b.WriteString(textEscaper.Replace(string(z.Text())))
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			name := tok.Data
			if dropContent[name] {
				if tt == html.StartTagToken {
					skipDepth++
				}
				continue
			}
			if skipDepth > 0 {
				continue
			}
			switch {
			case allowed[name]:
				b.WriteString(openTag(tok))
			case name == "br":
				b.WriteByte('\n')
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if dropContent[tag] {
				if skipDepth > 0 {
					skipDepth--
				}
				continue
			}
			if skipDepth > 0 {
				continue
			}
			switch {
			case allowed[tag]:
				b.WriteString("</" + tag + ">")
			case tag == "p" || tag == "div" || tag == "li" || tag == "tr":
				b.WriteByte('\n')
			}
		}
	}
}

func openTag(tok html.Token) string {
	if tok.Data == "a" {
		for _, a := range tok.Attr {
			if a.Key == "href" && a.Val != "" {
				return `<a href="` + html.EscapeString(a.Val) + `">`
			}
		}
	}
	return "<" + tok.Data + ">"
}

// PlainText flattens HTML into readable text (links and emphasis survive as
// markdown). It falls back to StripTags output with the tags removed when
// conversion fails.
type PlainText struct {
	conv *md.Converter
}

// NewPlainText returns a converter. It is safe for concurrent use.
func NewPlainText() *PlainText {
	conv := md.NewConverter("", true, nil)
	conv.Use(plugin.GitHubFlavored())
	return &PlainText{conv: conv}
}

// Convert returns s without markup.
func (p *PlainText) Convert(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	out, err := p.conv.ConvertString(s)
	if err != nil {
		return stripAll(s)
	}
	return strings.TrimSpace(excessiveLines.ReplaceAllString(out, "\n\n"))
}

func stripAll(s string) string {
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return s
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && dropContent[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.TrimSpace(b.String())
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i, count := 0, 0
	for i = range s {
		if count == n {
			break
		}
		count++
	}
	return s[:i]
}

// RuneLen is the length of s as the bot API counts it.
func RuneLen(s string) int { return utf8.RuneCountInString(s) }
