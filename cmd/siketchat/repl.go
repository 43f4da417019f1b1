package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/kalambet/siketchat/internal/chat"
	"github.com/kalambet/siketchat/internal/connectivity"
	"github.com/kalambet/siketchat/internal/prefs"
	"github.com/kalambet/siketchat/internal/widget"
)

const replHelp = `Commands:
  /retry                       retry the connection now
  /reset                       start a new conversation
  /rate <id> <1-5> [comments]  rate a bot reply
  /sound                       toggle sound
  /vol+  /vol-  /vol <0-1>     change volume
  /status                      show connection and session
  /quit                        leave the chat`

// runChat drives one widget opening from a line-oriented reader. It returns
// when in is exhausted, /quit is read or ctx is cancelled.
func runChat(ctx context.Context, w *widget.Widget, in io.Reader, out io.Writer) error {
	unsubscribe := w.Subscribe(func(st connectivity.State) {
		if st == connectivity.Disconnected {
			printBanner(w.Banner())
		}
	})
	defer unsubscribe()

	w.Open()
	defer w.Close()

	fmt.Fprintf(out, "%s (session %s)\n", colorize(colorBold, "SiketBank support"), w.Session().ID)
	fmt.Fprintln(out, colorize(colorFaint, "Type /help for commands."))
	printBanner(w.Banner())

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, w, strings.TrimSpace(line), out); quit {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, w *widget.Widget, line string, out io.Writer) (quit bool) {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		sendLine(ctx, w, line, out)
		return false
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(out, replHelp)
	case "/retry":
		st := w.Retry(ctx)
		if st != connectivity.Connected {
			printBanner(w.Banner())
		}
	case "/reset":
		sess, err := w.Reset(ctx)
		if err != nil {
			printError("%v", err)
			return false
		}
		fmt.Fprintf(out, "New session %s\n", sess.ID)
	case "/rate":
		rateLine(ctx, w, fields[1:])
	case "/sound":
		printPrefs(w.ToggleSound())
	case "/vol+":
		printPrefs(w.VolumeUp())
	case "/vol-":
		printPrefs(w.VolumeDown())
	case "/vol":
		if len(fields) != 2 {
			printWarning("usage: /vol <0-1>")
			return false
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			printWarning("invalid volume %q", fields[1])
			return false
		}
		printPrefs(w.SetVolume(v))
	case "/status":
		printStatus("Connection", "%s", w.State())
		printStatus("Session", "%s", w.Session().ID)
		printStatus("Customer", "%s", w.CustomerID())
	default:
		printWarning("unknown command %s (try /help)", fields[0])
	}
	return false
}

func sendLine(ctx context.Context, w *widget.Widget, text string, out io.Writer) {
	msg, err := w.Send(ctx, text)
	if errors.Is(err, chat.ErrSendRejected) {
		printWarning("Message not sent: %v", err)
		printBanner(w.Banner())
		return
	}
	if errors.Is(err, chat.ErrConversationReset) {
		printWarning("Reply to %q discarded: the conversation was reset.", text)
		return
	}
	if err != nil {
		printError("%v", err)
		return
	}
	fmt.Fprintln(out, formatMessage(msg))
}

func rateLine(ctx context.Context, w *widget.Widget, args []string) {
	if len(args) < 2 {
		printWarning("usage: /rate <id> <1-5> [comments]")
		return
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		printWarning("invalid message id %q", args[0])
		return
	}
	rating, err := strconv.Atoi(args[1])
	if err != nil {
		printWarning("invalid rating %q", args[1])
		return
	}
	// Feedback outcomes arrive as notifications; only lookup failures are
	// reported here.
	if err := w.Rate(ctx, id, rating, strings.Join(args[2:], " ")); errors.Is(err, widget.ErrUnknownMessage) {
		printWarning("%v", err)
	}
}

func formatMessage(m chat.Message) string {
	var b strings.Builder
	label := fmt.Sprintf("[#%d] %s:", m.ID, m.Kind)
	switch {
	case m.IsError:
		fmt.Fprintf(&b, "%s %s", colorize(colorRed, label), m.Text)
	case m.Kind == chat.Bot:
		fmt.Fprintf(&b, "%s %s", colorize(colorCyan, label), m.Text)
	default:
		fmt.Fprintf(&b, "%s %s", colorize(colorBold, label), m.Text)
	}
	if m.Kind == chat.Bot && m.Confidence != nil {
		fmt.Fprintf(&b, " %s", colorize(colorFaint, fmt.Sprintf("(%s, %.0f%%)", m.Intent, *m.Confidence*100)))
	}
	for _, s := range m.Suggestions {
		fmt.Fprintf(&b, "\n    • %s", s)
	}
	if m.Ratable() {
		fmt.Fprintf(&b, "\n    %s", colorize(colorFaint, fmt.Sprintf("rate with /rate %d <1-5>", m.ID)))
	}
	return b.String()
}

func printBanner(b widget.Banner) {
	switch {
	case b.Visible && b.Retryable:
		printWarning("%s Type /retry to try again.", b.Text)
	case b.Visible:
		printWarning("%s Retrying automatically...", b.Text)
	case b.Text != "":
		printStep("%s", b.Text)
	}
}

func printPrefs(p prefs.Preferences, err error) {
	if err != nil {
		printError("saving preferences: %v", err)
		return
	}
	sound := "off"
	if p.SoundEnabled {
		sound = "on"
	}
	printStatus("Sound", "%s, volume %.0f%%", sound, p.Volume*100)
}
