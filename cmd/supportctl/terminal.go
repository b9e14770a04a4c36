package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/MegaGrindStone/support-widget/internal/models"
	"github.com/MegaGrindStone/support-widget/internal/widget"
)

const (
	ansiBold  = "\033[1m"
	ansiReset = "\033[0m"
)

// renderText formats message text for a terminal.
func renderText(text string) string {
	return renderFragments(widget.Format(text))
}

func renderFragments(frags []widget.Fragment) string {
	lines := make([]string, len(frags))
	for i, f := range frags {
		switch f.Kind {
		case widget.FragmentHeading, widget.FragmentBold:
			lines[i] = ansiBold + stripEmphasis(f.Text) + ansiReset
		case widget.FragmentListItem:
			lines[i] = "  " + f.Text
		case widget.FragmentBreak:
			lines[i] = ""
		default:
			lines[i] = stripEmphasis(f.Text)
		}
	}
	return strings.Join(lines, "\n")
}

func stripEmphasis(s string) string {
	return strings.ReplaceAll(s, "**", "")
}

func renderSources(sources []models.Source) string {
	v := widget.RenderMessage(0, models.Message{Role: models.RoleAssistant, Sources: sources})
	if len(v.Sources) == 0 {
		return ""
	}
	return "Fonti: " + strings.Join(v.Sources, ", ")
}

// chatPrinter writes the transcript of a widget to a terminal as it changes. Answers are printed raw while
// they stream, and messages that never streamed (welcome, fallback) are printed formatted.
type chatPrinter struct {
	mu  sync.Mutex
	out io.Writer

	botName string
	printed int
	// streamed is the part of the streaming answer already written.
	streamed    string
	answering   bool
	typingShown bool
}

func newChatPrinter(out io.Writer, botName string) *chatPrinter {
	return &chatPrinter{out: out, botName: botName}
}

func (p *chatPrinter) update(st widget.State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	msgs := st.Snapshot.Transcript

	if st.Pending && !p.typingShown {
		fmt.Fprintf(p.out, "%s sta scrivendo...\n", p.botName)
		p.typingShown = true
	}

	for p.printed < len(msgs) {
		msg := msgs[p.printed]
		if msg.Role == models.RoleUser {
			p.printed++
			continue
		}
		p.typingShown = false

		if msg.Streaming {
			if !p.answering {
				fmt.Fprintf(p.out, "%s: ", p.botName)
				p.answering = true
			}
			fmt.Fprint(p.out, strings.TrimPrefix(msg.Content, p.streamed))
			p.streamed = msg.Content
			return
		}

		switch {
		case !p.answering:
			fmt.Fprintf(p.out, "%s: %s\n", p.botName, renderText(msg.Content))
		case strings.HasPrefix(msg.Content, p.streamed):
			fmt.Fprintln(p.out, strings.TrimPrefix(msg.Content, p.streamed))
		default:
			// The streamed text was replaced by the fallback message.
			fmt.Fprintf(p.out, "\n%s: %s\n", p.botName, renderText(msg.Content))
		}
		if sources := renderSources(msg.Sources); sources != "" {
			fmt.Fprintln(p.out, sources)
		}

		p.streamed = ""
		p.answering = false
		p.printed++
	}
}

func (p *chatPrinter) println(a ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintln(p.out, a...)
}
