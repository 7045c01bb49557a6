package main

import (
	"fmt"

	"github.com/charmbracelet/huh"

	"github.com/flywheel-apps/ROI-export/internal/config"
)

// runWizard fills the missing configuration interactively. Values
// already set from flags or the environment are pre-filled.
func runWizard(cfg *config.Config) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Key("api_host").
				Title("API Host").
				Placeholder("https://api.flywheel.io").
				Value(&cfg.APIHost).
				Validate(required("API host")),

			huh.NewInput().
				Key("api_key").
				Title("API Key").
				EchoMode(huh.EchoModePassword).
				Value(&cfg.APIKey).
				Validate(required("API key")),

			huh.NewInput().
				Key("container").
				Title("Container ID").
				Placeholder("project or session ID").
				Value(&cfg.Container).
				Validate(required("container ID")),

			huh.NewInput().
				Key("output").
				Title("Output Directory").
				Value(&cfg.OutputDir).
				Validate(required("output directory")),

			huh.NewConfirm().
				Key("preview").
				Title("Render ROI previews?").
				Value(&cfg.Preview),
		),
	).WithShowErrors(true)

	return form.Run()
}

func required(name string) func(string) error {
	return func(s string) error {
		if s == "" {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
}
