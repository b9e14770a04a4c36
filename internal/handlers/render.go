package handlers

import (
	"bytes"
	"html/template"
	"strings"

	"github.com/MegaGrindStone/support-widget/internal/widget"
	"github.com/yuin/goldmark"
)

var inlineMarkdown = goldmark.New()

// renderFragment renders one formatted line of an assistant message.
func renderFragment(f widget.Fragment) template.HTML {
	switch f.Kind {
	case widget.FragmentHeading:
		return template.HTML(`<div class="sw-heading">` + renderInline(f.Text) + `</div>`)
	case widget.FragmentBold:
		return template.HTML(`<div class="sw-line"><strong>` + renderInline(f.Text) + `</strong></div>`)
	case widget.FragmentListItem:
		return template.HTML(`<div class="sw-list-item">` + template.HTMLEscapeString(f.Text) + `</div>`)
	case widget.FragmentBreak:
		return template.HTML(`<div class="sw-break"></div>`)
	default:
		return template.HTML(`<div class="sw-line">` + renderInline(f.Text) + `</div>`)
	}
}

// renderInline converts the inline markdown of a single line (emphasis, code spans, links) to HTML.
// A line goldmark would turn into a block construct, or one holding raw HTML, is escaped as is.
func renderInline(text string) string {
	var buf bytes.Buffer
	if err := inlineMarkdown.Convert([]byte(text), &buf); err != nil {
		return template.HTMLEscapeString(text)
	}

	out := strings.TrimSuffix(buf.String(), "\n")
	inner, ok := strings.CutPrefix(out, "<p>")
	if !ok {
		return template.HTMLEscapeString(text)
	}
	inner, ok = strings.CutSuffix(inner, "</p>")
	if !ok || strings.Contains(inner, "<p>") || strings.Contains(inner, "<!-- raw HTML omitted -->") {
		return template.HTMLEscapeString(text)
	}
	return inner
}
