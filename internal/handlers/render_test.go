package handlers

import (
	"testing"

	"github.com/MegaGrindStone/support-widget/internal/widget"
)

func TestRenderInline(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "plain", text: "Come posso aiutarti?", want: "Come posso aiutarti?"},
		{name: "bold", text: "Chiama il **800 900 009** ora", want: "Chiama il <strong>800 900 009</strong> ora"},
		{name: "bullet escaped", text: "- Depositi e prelievi", want: "- Depositi e prelievi"},
		{name: "raw html escaped", text: "<script>x</script>", want: "&lt;script&gt;x&lt;/script&gt;"},
		{name: "numbered escaped", text: "1. primo", want: "1. primo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := renderInline(tt.text); got != tt.want {
				t.Errorf("renderInline(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestRenderFragment(t *testing.T) {
	tests := []struct {
		frag widget.Fragment
		want string
	}{
		{frag: widget.Fragment{Kind: widget.FragmentHeading, Text: "Bonus"}, want: `<div class="sw-heading">Bonus</div>`},
		{frag: widget.Fragment{Kind: widget.FragmentBold, Text: "Attenzione"}, want: `<div class="sw-line"><strong>Attenzione</strong></div>`},
		{frag: widget.Fragment{Kind: widget.FragmentListItem, Text: "1) <b>uno</b>"}, want: `<div class="sw-list-item">1) &lt;b&gt;uno&lt;/b&gt;</div>`},
		{frag: widget.Fragment{Kind: widget.FragmentBreak}, want: `<div class="sw-break"></div>`},
		{frag: widget.Fragment{Kind: widget.FragmentText, Text: "ciao"}, want: `<div class="sw-line">ciao</div>`},
	}

	for _, tt := range tests {
		if got := string(renderFragment(tt.frag)); got != tt.want {
			t.Errorf("renderFragment(%+v) = %q, want %q", tt.frag, got, tt.want)
		}
	}
}
