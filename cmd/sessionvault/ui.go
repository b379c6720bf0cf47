package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"golang.org/x/term"
)

// formatter applies semantic color to CLI output.
type formatter struct {
	color  *color.Color
	prefix string
	suffix string
}

func (f formatter) Sprint(a ...any) string {
	text := fmt.Sprint(a...)
	if noColor() {
		return f.prefix + text + f.suffix
	}
	return f.color.Sprint(text)
}

func (f formatter) Sprintf(format string, a ...any) string {
	return f.Sprint(fmt.Sprintf(format, a...))
}

// noColor honors NO_COLOR (https://no-color.org/) and fatih/color's own
// terminal detection.
func noColor() bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return true
	}
	return color.NoColor
}

var (
	uiCode    = formatter{color.New(color.FgYellow), "`", "`"}
	uiPath    = formatter{color.New(color.FgYellow), "", ""}
	uiSuccess = formatter{color.New(color.FgGreen), "", ""}
	uiError   = formatter{color.New(color.FgRed), "", ""}
	uiWarning = formatter{color.New(color.FgYellow), "", ""}
	uiInfo    = formatter{color.New(color.FgCyan), "", ""}
	uiMuted   = formatter{color.New(color.FgHiBlack), "", ""}
)

func printSuccess(w io.Writer, format string, a ...any) {
	fmt.Fprintln(w, uiSuccess.Sprint("✓")+" "+fmt.Sprintf(format, a...))
}

func printWarning(w io.Writer, format string, a ...any) {
	fmt.Fprintln(w, uiWarning.Sprint("!")+" "+fmt.Sprintf(format, a...))
}

// printField writes an aligned "key: value" line.
func printField(w io.Writer, key string, value any) {
	fmt.Fprintf(w, "  %-20s %v\n", uiMuted.Sprint(key+":"), value)
}

// startSpinner shows progress on stderr for slow operations. The returned
// cleanup stops the spinner and prints FinalMSG, if any. Nothing is drawn
// when stderr is not a terminal or verbose logging is on.
func startSpinner(message string, verbose bool) (*spinner.Spinner, func()) {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " " + message
	_ = s.Color("cyan")

	active := !verbose && term.IsTerminal(int(os.Stderr.Fd()))
	if active {
		s.Start()
	}

	return s, func() {
		final := s.FinalMSG
		s.FinalMSG = ""
		if active {
			s.Stop()
		}
		if final != "" {
			if final[len(final)-1] != '\n' {
				final += "\n"
			}
			fmt.Fprint(os.Stderr, final)
		}
	}
}
