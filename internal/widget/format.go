package widget

import (
	"strings"
)

// FragmentKind is the display class of one line of message text.
type FragmentKind int

const (
	FragmentText FragmentKind = iota
	FragmentHeading
	FragmentBold
	FragmentListItem
	FragmentBreak
)

// Fragment is one formatted line of message text.
type Fragment struct {
	Kind FragmentKind
	Text string
}

// Format splits text into lines and classifies each one:
//
//   - "## title" is a heading holding "title";
//   - "**text**" spanning the whole line is bold text;
//   - "1) item" (any number) is a list item holding the whole line;
//   - an empty line is a break;
//   - anything else is plain text.
func Format(text string) []Fragment {
	lines := strings.Split(text, "\n")
	frags := make([]Fragment, len(lines))
	for i, line := range lines {
		frags[i] = formatLine(line)
	}
	return frags
}

func formatLine(line string) Fragment {
	if title, ok := strings.CutPrefix(line, "## "); ok {
		return Fragment{Kind: FragmentHeading, Text: title}
	}
	if len(line) >= 4 && strings.HasPrefix(line, "**") && strings.HasSuffix(line, "**") {
		return Fragment{Kind: FragmentBold, Text: line[2 : len(line)-2]}
	}
	if isListItem(line) {
		return Fragment{Kind: FragmentListItem, Text: line}
	}
	if line == "" {
		return Fragment{Kind: FragmentBreak}
	}
	return Fragment{Kind: FragmentText, Text: line}
}

// isListItem matches lines starting with digits followed by ") ".
func isListItem(line string) bool {
	digits := 0
	for digits < len(line) && line[digits] >= '0' && line[digits] <= '9' {
		digits++
	}
	return digits > 0 && strings.HasPrefix(line[digits:], ") ")
}
