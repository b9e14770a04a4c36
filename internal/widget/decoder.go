package widget

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/MegaGrindStone/support-widget/internal/metrics"
	"github.com/MegaGrindStone/support-widget/internal/models"
)

const dataPrefix = "data: "

// DecodeEvents reads a chat event stream and yields its events in arrival order.
//
// The stream is split on '\n'. A line is only considered once its newline has arrived, so bytes of a
// line (including a multi-byte character) split across reads are reassembled before decoding. Lines
// that don't start with "data: " are skipped, and so are payloads that aren't valid JSON. A trailing
// line without newline at the end of the stream is discarded. Any read error other than io.EOF is
// yielded once and ends the iteration.
func DecodeEvents(r io.Reader) iter.Seq2[models.Event, error] {
	return func(yield func(models.Event, error) bool) {
		br := bufio.NewReader(r)
		for {
			line, err := br.ReadString('\n')
			if err != nil {
				if !errors.Is(err, io.EOF) {
					yield(models.Event{}, fmt.Errorf("error reading event stream: %w", err))
				}
				return
			}

			ev, ok := parseLine(line)
			if !ok {
				continue
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}

func parseLine(line string) (models.Event, bool) {
	line = strings.TrimRight(line, "\r\n")
	payload, ok := strings.CutPrefix(line, dataPrefix)
	if !ok {
		return models.Event{}, false
	}

	var ev models.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		metrics.MalformedLinesTotal.Inc()
		return models.Event{}, false
	}
	return ev, true
}
