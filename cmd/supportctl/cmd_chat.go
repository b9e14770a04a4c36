package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MegaGrindStone/support-widget/internal/models"
	"github.com/MegaGrindStone/support-widget/internal/services"
	"github.com/MegaGrindStone/support-widget/internal/widget"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const chatHelp = `Scrivi un messaggio e premi Invio. Termina una riga con \ per andare a capo.
Comandi: :up / :down valutano l'ultima risposta, :quit esce.`

func newChatCmd(opts *rootOptions) *cobra.Command {
	var botName string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := opts.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			printer := newChatPrinter(cmd.OutOrStdout(), botName)
			w := widget.New(uuid.New().String(), services.NewSupportAPI(opts.apiURL, logger), widget.Config{
				RequestTimeout: opts.timeout,
			}, logger, func(w *widget.Widget) {
				printer.update(w.State())
			})
			defer w.Close()

			return runChat(cmd, w, printer)
		},
	}

	cmd.Flags().StringVar(&botName, "bot-name", "LottAssist", "Name shown before the answers")

	return cmd
}

func runChat(cmd *cobra.Command, w *widget.Widget, printer *chatPrinter) error {
	ctx := cmd.Context()

	w.Shell.Open()
	printer.println(chatHelp)
	printer.update(w.State())
	printQuickReplies(printer, w.State().Input.QuickReplies)

	in := bufio.NewScanner(cmd.InOrStdin())
	var draft strings.Builder
	for in.Scan() {
		line := in.Text()

		shift := strings.HasSuffix(line, `\`)
		if widget.KeyActionFor("Enter", shift) == widget.KeyNewline {
			draft.WriteString(strings.TrimSuffix(line, `\`))
			draft.WriteString("\n")
			continue
		}
		draft.WriteString(line)
		text := draft.String()
		draft.Reset()

		switch strings.TrimSpace(text) {
		case ":quit", ":q":
			return nil
		case ":up":
			rateLast(ctx, w, printer, models.RatingPositive)
			continue
		case ":down":
			rateLast(ctx, w, printer, models.RatingNegative)
			continue
		}

		text = pickQuickReply(text, w.State().Input.QuickReplies)

		text, err := w.BeginSend(text)
		switch {
		case errors.Is(err, widget.ErrEmptyMessage):
			continue
		case err != nil:
			printer.println("Attendi la risposta precedente.")
			continue
		}

		// Failures are already reconciled into the transcript as the fallback message.
		_ = w.Send(ctx, text)

		if ctx.Err() != nil {
			return nil
		}
	}

	return in.Err()
}

func printQuickReplies(printer *chatPrinter, quickReplies []string) {
	if len(quickReplies) == 0 {
		return
	}
	var sb strings.Builder
	sb.WriteString("Domande frequenti:")
	for i, qr := range quickReplies {
		fmt.Fprintf(&sb, "\n  %d) %s", i+1, qr)
	}
	printer.println(sb.String())
}

// pickQuickReply turns the number of a quick reply into its text while they are offered.
func pickQuickReply(text string, quickReplies []string) string {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || n < 1 || n > len(quickReplies) {
		return text
	}
	return quickReplies[n-1]
}

func rateLast(ctx context.Context, w *widget.Widget, printer *chatPrinter, rating models.Rating) {
	msgs := w.Session.Transcript()
	index := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == models.RoleAssistant {
			index = i
			break
		}
	}

	if index < 0 || !w.Rate(ctx, index, rating) {
		printer.println("Nessuna risposta da valutare.")
		return
	}

	if rating == models.RatingPositive {
		printer.println(widget.AckPositive)
		return
	}
	printer.println(widget.AckNegative)
}
