package cmd

import (
	"context"
	"errors"
	"os"

	"github.com/charmbracelet/huh"
)

// huhConfirmer asks yes/no questions on the terminal
type huhConfirmer struct{}

func (huhConfirmer) Confirm(question string) (bool, error) {
	var ok bool
	err := huh.NewConfirm().
		Title(question).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return false, context.Canceled
	}
	if err != nil {
		return false, err
	}
	return ok, nil
}

// isInteractive is true if both stdin and stdout are terminals
func isInteractive() bool {
	return isTerminal(os.Stdin) && isTerminal(os.Stdout)
}

func isTerminal(f *os.File) bool {
	stat, err := f.Stat()
	return err == nil && stat.Mode()&os.ModeCharDevice != 0
}
