package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/kalambet/siketchat/internal/notify"
)

var (
	colorRed    = forced(color.FgRed)
	colorGreen  = forced(color.FgGreen)
	colorYellow = forced(color.FgYellow)
	colorCyan   = forced(color.FgCyan)
	colorFaint  = forced(color.Faint)
	colorBold   = forced(color.Bold)
)

// forced builds a color that ignores fatih/color's terminal detection;
// noColor is the only switch.
func forced(attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	c.EnableColor()
	return c
}

func colorize(c *color.Color, text string) string {
	if noColor {
		return text
	}
	return c.Sprint(text)
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

// printNotification renders a widget toast on stderr.
func printNotification(n notify.Notification) {
	switch n.Level {
	case notify.Success:
		printSuccess("%s", n.Text)
	case notify.Warning:
		printWarning("%s", n.Text)
	case notify.Error:
		printError("%s", n.Text)
	default:
		printStep("%s", n.Text)
	}
}
