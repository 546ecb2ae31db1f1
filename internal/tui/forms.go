// Package tui provides interactive terminal prompts.
package tui

import (
	"github.com/charmbracelet/huh"
)

// ConfirmDangerous shows a confirmation prompt for dangerous actions.
func ConfirmDangerous(message, description string) (bool, error) {
	var result bool
	err := huh.NewConfirm().
		Title(message).
		Description(description).
		Affirmative("Yes, I'm sure").
		Negative("Cancel").
		Value(&result).
		Run()
	if err != nil {
		return false, err
	}
	return result, nil
}

// SelectOption represents an option in a select prompt.
type SelectOption struct {
	Value string
	Label string
}

// Select shows a single-select prompt.
func Select(title string, options []SelectOption) (string, error) {
	huhOptions := make([]huh.Option[string], len(options))
	for i, opt := range options {
		huhOptions[i] = huh.NewOption(opt.Label, opt.Value)
	}

	var result string
	err := huh.NewSelect[string]().
		Title(title).
		Options(huhOptions...).
		Value(&result).
		Run()
	return result, err
}
