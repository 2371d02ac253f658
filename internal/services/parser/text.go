package parser

import (
	"io"
	"mime/quotedprintable"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	qpSoftBreakRex = regexp.MustCompile(`=\r?\n`)
	qpHexRex       = regexp.MustCompile(`=([0-9A-Fa-f]{2})`)
	qpHintRex      = regexp.MustCompile(`=(20|3D|0A|0D|\r?\n)`)
	spaceRex       = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
)

// Normalize flattens a notification into plain text lines: quoted-printable
// remnants decoded, HTML rendered to text, entities unescaped and runs of
// whitespace collapsed. The text body comes first.
func Normalize(text, htmlBody string) string {
	var parts []string
	if t := strings.TrimSpace(text); t != "" {
		parts = append(parts, html.UnescapeString(decodeQP(t)))
	}
	if h := strings.TrimSpace(htmlBody); h != "" {
		parts = append(parts, htmlToText(decodeQP(h)))
	}
	return collapse(strings.Join(parts, "\n"))
}

func decodeQP(s string) string {
	if !qpHintRex.MatchString(s) {
		return s
	}
	if b, err := io.ReadAll(quotedprintable.NewReader(strings.NewReader(s))); err == nil {
		return string(b)
	}
	// lenient fallback for bodies mixing encoded and literal "="
	s = qpSoftBreakRex.ReplaceAllString(s, "")
	return qpHexRex.ReplaceAllStringFunc(s, func(m string) string {
		var b byte
		for _, c := range m[1:] {
			b <<= 4
			switch {
			case c >= '0' && c <= '9':
				b |= byte(c - '0')
			case c >= 'a' && c <= 'f':
				b |= byte(c-'a') + 10
			case c >= 'A' && c <= 'F':
				b |= byte(c-'A') + 10
			}
		}
		return string([]byte{b})
	})
}

// htmlToText renders markup as text. Table cells are separated by a space
// and rows and block elements end a line, so "<td>Amount</td><td>NGN 5</td>"
// reads as "Amount NGN 5".
func htmlToText(markup string) string {
	var sb strings.Builder
	z := html.NewTokenizer(strings.NewReader(markup))
	skip := 0

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return sb.String()
		case html.TextToken:
			if skip == 0 {
				sb.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken, html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			switch a {
			case atom.Script, atom.Style, atom.Head, atom.Title:
				if tt == html.StartTagToken {
					skip++
				} else if tt == html.EndTagToken && skip > 0 {
					skip--
				}
			case atom.Td, atom.Th:
				sb.WriteByte(' ')
			case atom.Br, atom.Tr, atom.P, atom.Div, atom.Li, atom.Table,
				atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
				sb.WriteByte('\n')
			}
		}
	}
}

func collapse(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := lines[:0]
	for _, l := range lines {
		l = strings.TrimSpace(spaceRex.ReplaceAllString(l, " "))
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}
