package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/gookit/color"
	"github.com/spf13/cobra"

	"github.com/gitpod-io/satchel/pkg/satchel"
	"github.com/gitpod-io/satchel/pkg/satchel/tools"
)

var licenses = []string{
	"BSD-3-Clause",
	"MIT",
	"Apache-2.0",
	"GPL-2.0-or-later",
	"GPL-3.0-or-later",
	"LGPL-3.0-or-later",
	"Proprietary",
}

// newCmd represents the new command
var newCmd = &cobra.Command{
	Use:   "new",
	Short: "Creates a new satchel project in a new directory below the current one",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := getNewProjectOptions(cmd)
		if !noInput && isInteractive() {
			err := promptNewProject(&opts)
			if err != nil {
				return err
			}
		}

		cacheDir := tools.DefaultCacheDir()
		cache, err := tools.NewCache(cacheDir)
		if err != nil {
			return err
		}
		runner := &satchel.ExecRunner{}
		renderer := newRenderer(cacheDir, runner, tools.NewRegistry(cache, runner))

		parent, err := os.Getwd()
		if err != nil {
			return err
		}
		dst, err := satchel.NewProject(cmd.Context(), renderer, parent, opts)
		if err != nil {
			return err
		}
		setLogProject(dst)

		fmt.Printf("%s generated %s in %s\n", color.Green.Render("✓"), opts.FormalName, dst)
		fmt.Printf("\nTo run your application:\n    cd %s\n    satchel dev\n", opts.AppName)
		return nil
	},
}

func getNewProjectOptions(cmd *cobra.Command) satchel.NewProjectOptions {
	var opts satchel.NewProjectOptions
	fields := map[string]*string{
		"formal-name":     &opts.FormalName,
		"app-name":        &opts.AppName,
		"bundle":          &opts.Bundle,
		"description":     &opts.Description,
		"author":          &opts.Author,
		"author-email":    &opts.AuthorEmail,
		"url":             &opts.URL,
		"license":         &opts.License,
		"template":        &opts.Template,
		"template-branch": &opts.TemplateBranch,
	}
	for name, dst := range fields {
		*dst, _ = cmd.Flags().GetString(name)
	}
	return opts
}

// promptNewProject asks for everything not given on the command line. Later questions default to values
// derived from earlier answers.
func promptNewProject(opts *satchel.NewProjectOptions) error {
	var base satchel.NewProjectOptions
	base.Defaults()
	if opts.FormalName == "" {
		opts.FormalName = base.FormalName
	}
	if opts.Bundle == "" {
		opts.Bundle = base.Bundle
	}
	if opts.Author == "" {
		opts.Author = base.Author
	}

	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Formal Name").
				Description("The human readable name of your app, e.g. \"Hello World\".").
				Value(&opts.FormalName).
				Validate(notEmpty),
			huh.NewInput().
				Title("Bundle Identifier").
				Description("A reversed domain name you control, e.g. com.example.").
				Value(&opts.Bundle).
				Validate(func(s string) error {
					if !satchel.IsValidBundle(s) {
						return fmt.Errorf("%q is not a valid bundle identifier", s)
					}
					return nil
				}),
			huh.NewInput().
				Title("Author").
				Value(&opts.Author).
				Validate(notEmpty),
		).Title("New Project"),
	).Run()
	if err != nil {
		return promptError(err)
	}

	opts.Defaults()
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("App Name").
				Description("The Python module name of your app.").
				Value(&opts.AppName).
				Validate(func(s string) error {
					if !satchel.IsValidAppName(s) {
						return fmt.Errorf("%q is not a valid app name", s)
					}
					return nil
				}),
			huh.NewInput().
				Title("Description").
				Value(&opts.Description),
			huh.NewInput().
				Title("Author's Email").
				Value(&opts.AuthorEmail),
			huh.NewInput().
				Title("Application URL").
				Value(&opts.URL),
			huh.NewSelect[string]().
				Title("Project License").
				Options(huh.NewOptions(licenses...)...).
				Value(&opts.License),
		).Title(opts.FormalName),
	).Run()
	if err != nil {
		return promptError(err)
	}
	return nil
}

func notEmpty(s string) error {
	if s == "" {
		return fmt.Errorf("must not be empty")
	}
	return nil
}

func promptError(err error) error {
	if errors.Is(err, huh.ErrUserAborted) {
		return context.Canceled
	}
	return err
}

func init() {
	newCmd.Flags().String("formal-name", "", "the human readable name of the app")
	newCmd.Flags().String("app-name", "", "the Python module name of the app. Derived from the formal name if empty.")
	newCmd.Flags().String("bundle", "", "the reversed domain name the app is published under")
	newCmd.Flags().String("description", "", "a short description of the app")
	newCmd.Flags().String("author", "", "the author of the app")
	newCmd.Flags().String("author-email", "", "the author's email address")
	newCmd.Flags().String("url", "", "the app's homepage")
	newCmd.Flags().String("license", "", "the SPDX identifier of the app's license")
	newCmd.Flags().String("template", "", "a directory or git repository to use instead of the built-in project template")
	newCmd.Flags().String("template-branch", "", "the branch of the template repository")
	rootCmd.AddCommand(newCmd)
}
