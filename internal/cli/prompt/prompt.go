// Package prompt provides the interactive terminal prompts used by the
// client: password entry and overwrite confirmation.
package prompt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
)

// ErrAborted is returned when the user interrupts a prompt.
var ErrAborted = errors.New("aborted")

// Password prompts for a password with masked input.
func Password(label string) (string, error) {
	p := promptui.Prompt{
		Label: label,
		Mask:  '*',
	}
	result, err := p.Run()
	if err != nil {
		if err == promptui.ErrInterrupt {
			return "", ErrAborted
		}
		return "", err
	}
	return result, nil
}

// Confirm asks a yes/no question, defaulting to no.
func Confirm(label string) (bool, error) {
	p := promptui.Prompt{
		Label:     fmt.Sprintf("%s [y/N]", label),
		IsConfirm: true,
	}
	result, err := p.Run()
	if err != nil {
		if err == promptui.ErrInterrupt {
			return false, ErrAborted
		}
		// promptui reports a "no" answer as ErrAbort.
		if err == promptui.ErrAbort {
			return false, nil
		}
		return false, nil
	}
	result = strings.ToLower(result)
	return result == "y" || result == "yes", nil
}
