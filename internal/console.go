package internal

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	progressStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)
)

var (
	consoleMu  sync.Mutex
	consoleOut io.Writer = os.Stdout
	consoleErr io.Writer = os.Stderr
)

// SetConsoleOutput redirects the Print* helpers and spinners, mainly for tests
func SetConsoleOutput(out, errOut io.Writer) {
	consoleMu.Lock()
	defer consoleMu.Unlock()
	consoleOut = out
	consoleErr = errOut
}

func consoleWriters() (io.Writer, io.Writer) {
	consoleMu.Lock()
	defer consoleMu.Unlock()
	return consoleOut, consoleErr
}

// ProgressStep represents a single step in a multi-step process
type ProgressStep struct {
	Message string
	Fn      func(ctx context.Context) error
}

// ShowProgress runs fn while a spinner is drawn on stderr. Outside a
// terminal the message is logged once instead.
func ShowProgress(ctx context.Context, message string, fn func(ctx context.Context) error) error {
	_, errOut := consoleWriters()
	if !isTerminal(errOut) {
		LogInfo("%s", message)
		return fn(ctx)
	}
	return showSpinner(ctx, errOut, message, fn)
}

// ShowProgressWithSteps runs the steps in order, stopping at the first error
func ShowProgressWithSteps(ctx context.Context, steps []ProgressStep) error {
	for i, step := range steps {
		msg := fmt.Sprintf("[%d/%d] %s", i+1, len(steps), step.Message)
		if err := ShowProgress(ctx, msg, step.Fn); err != nil {
			return fmt.Errorf("%s: %w", step.Message, err)
		}
	}
	return nil
}

func showSpinner(ctx context.Context, w io.Writer, message string, fn func(ctx context.Context) error) error {
	spinnerChars := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	stop := make(chan struct{})
	spinnerDone := make(chan struct{})

	go func() {
		defer close(spinnerDone)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			case <-ticker.C:
				fmt.Fprintf(w, "\r%s %s", progressStyle.Render(spinnerChars[i%len(spinnerChars)]), message)
			}
		}
	}()

	err := fn(ctx)
	close(stop)
	<-spinnerDone

	if err != nil {
		fmt.Fprintf(w, "\r%s %s\n", errorStyle.Render("✗"), message)
		return err
	}
	fmt.Fprintf(w, "\r%s %s\n", successStyle.Render("✓"), message)
	return nil
}

// isTerminal checks if the writer is a terminal
func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		stat, err := f.Stat()
		if err != nil {
			return false
		}
		return (stat.Mode() & os.ModeCharDevice) != 0
	}
	return false
}

// PrintSuccess prints a success message
func PrintSuccess(message string) {
	out, _ := consoleWriters()
	if isTerminal(out) {
		fmt.Fprintf(out, "%s %s\n", successStyle.Render("✓"), message)
	} else {
		fmt.Fprintln(out, message)
	}
}

// PrintError prints an error message
func PrintError(message string) {
	_, errOut := consoleWriters()
	if isTerminal(errOut) {
		fmt.Fprintf(errOut, "%s %s\n", errorStyle.Render("✗"), message)
	} else {
		fmt.Fprintln(errOut, message)
	}
}

// PrintInfo prints an info message
func PrintInfo(message string) {
	out, _ := consoleWriters()
	if isTerminal(out) {
		fmt.Fprintf(out, "%s %s\n", progressStyle.Render("ℹ"), message)
	} else {
		fmt.Fprintln(out, message)
	}
}

// PrintWarning prints a warning message
func PrintWarning(message string) {
	_, errOut := consoleWriters()
	if isTerminal(errOut) {
		fmt.Fprintf(errOut, "%s %s\n", warningStyle.Render("⚠"), message)
	} else {
		fmt.Fprintf(errOut, "WARNING: %s\n", message)
	}
}
