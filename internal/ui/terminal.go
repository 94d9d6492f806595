package ui

import (
	"errors"
	"os"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

// ErrNotInteractive is returned by Confirm when stdin is not a terminal.
var ErrNotInteractive = errors.New("confirmation needs an interactive terminal (use --yes)")

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

// Confirm asks a yes/no question. It fails with ErrNotInteractive when
// there is no terminal to ask on.
func Confirm(title, description string) (bool, error) {
	if !IsTerminal(os.Stdin) {
		return false, ErrNotInteractive
	}
	var ok bool
	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, err
	}
	return ok, nil
}
