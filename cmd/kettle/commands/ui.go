package commands

import (
	"errors"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/huh/spinner"
	"golang.org/x/term"
)

// ErrConfirmationRequired is returned when a transaction needs approval
// and stdin is not a terminal
var ErrConfirmationRequired = errors.New("stdin is not a terminal: pass --yes to send transactions")

// ErrAborted is returned when the user declines a transaction
var ErrAborted = errors.New("aborted")

// interactive reports whether prompts can be shown. Tests replace it.
var interactive = func() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// confirmSend asks before anything is broadcast
func confirmSend(title, description string) error {
	if !interactive() {
		return ErrConfirmationRequired
	}
	var ok bool
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Description(description).
				Affirmative("Send").
				Negative("Cancel").
				Value(&ok),
		),
	).WithTheme(huh.ThemeBase()).Run()
	if err != nil {
		return err
	}
	if !ok {
		return ErrAborted
	}
	return nil
}

// withSpinner runs fn behind a spinner on styled terminals and directly
// everywhere else, so piped and JSON output stay clean
func withSpinner(msg string, fn func() error) error {
	if !styled() {
		return fn()
	}

	var fnErr error
	err := spinner.New().
		Title(msg).
		Action(func() {
			fnErr = fn()
		}).
		Run()
	if err != nil {
		return err
	}
	return fnErr
}
