package satchel

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// ProjectTemplate is the built-in template new projects are rendered from
const ProjectTemplate = builtinPrefix + "project"

var (
	nonAppNameChars = regexp.MustCompile(`[^0-9a-zA-Z_]+`)
	emailRegexp     = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// NewProjectOptions describe a project to be created by NewProject.
// Empty fields are derived from the others.
type NewProjectOptions struct {
	FormalName  string
	AppName     string
	Bundle      string
	Description string
	Author      string
	AuthorEmail string
	URL         string
	License     string
	// Template overrides the built-in project template
	Template       string
	TemplateBranch string
}

// Defaults fills in every empty field
func (o *NewProjectOptions) Defaults() {
	if o.FormalName == "" {
		o.FormalName = "Hello World"
	}
	if o.AppName == "" {
		o.AppName = MakeAppName(o.FormalName)
	}
	if o.Bundle == "" {
		o.Bundle = "com.example"
	}
	if o.Description == "" {
		o.Description = "My first application"
	}
	if o.Author == "" {
		o.Author = "Jane Developer"
	}
	if o.AuthorEmail == "" {
		o.AuthorEmail = MakeAuthorEmail(o.Author, o.Bundle)
	}
	if o.URL == "" {
		o.URL = MakeProjectURL(o.Bundle, o.AppName)
	}
	if o.License == "" {
		o.License = "BSD-3-Clause"
	}
}

// Validate checks the options after defaults have been applied
func (o *NewProjectOptions) Validate() error {
	if strings.TrimSpace(o.FormalName) == "" {
		return configErrorf("formal name must not be empty")
	}
	if !IsValidAppName(o.AppName) {
		return configErrorf("%q is not a valid app name; use lowercase letters, digits and underscores", o.AppName)
	}
	if !IsValidBundle(o.Bundle) {
		return configErrorf("%q is not a valid bundle identifier; it must be a reversed domain name like com.example", o.Bundle)
	}
	if !emailRegexp.MatchString(o.AuthorEmail) {
		return configErrorf("%q is not a valid email address", o.AuthorEmail)
	}
	u, err := url.Parse(o.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return configErrorf("%q is not a valid URL", o.URL)
	}
	return nil
}

// MakeAppName derives an app name from a formal name
func MakeAppName(formalName string) string {
	name := nonAppNameChars.ReplaceAllString(formalName, "_")
	name = strings.ToLower(strings.TrimLeft(name, "_"))
	name = strings.TrimRight(name, "_")
	if name == "" {
		return "myapp"
	}
	return name
}

// bundleDomain turns com.example into example.com
func bundleDomain(bundle string) string {
	segs := strings.Split(bundle, ".")
	for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
		segs[i], segs[j] = segs[j], segs[i]
	}
	return strings.Join(segs, ".")
}

// MakeAuthorEmail guesses an email address from the author's first name and the bundle domain
func MakeAuthorEmail(author, bundle string) string {
	first := strings.ToLower(strings.SplitN(strings.TrimSpace(author), " ", 2)[0])
	return fmt.Sprintf("%s@%s", first, bundleDomain(bundle))
}

// MakeProjectURL guesses a project URL from bundle and app name
func MakeProjectURL(bundle, appName string) string {
	return fmt.Sprintf("https://%s/%s", bundleDomain(bundle), appName)
}

// NewProject renders a new project into parent/<app name>
func NewProject(ctx context.Context, r Renderer, parent string, opts NewProjectOptions) (string, error) {
	opts.Defaults()
	err := opts.Validate()
	if err != nil {
		return "", err
	}

	dst := filepath.Join(parent, opts.AppName)
	if _, err := os.Stat(dst); err == nil {
		return "", configErrorf("directory %s already exists; choose a different app name", dst)
	} else if !os.IsNotExist(err) {
		return "", err
	}

	ref := TemplateRef{URL: ProjectTemplate, Branch: opts.TemplateBranch}
	if opts.Template != "" {
		ref.URL = opts.Template
	}

	app := &AppConfig{
		AppName:     opts.AppName,
		FormalName:  opts.FormalName,
		Bundle:      opts.Bundle,
		Version:     "0.0.1",
		Description: opts.Description,
		URL:         opts.URL,
		Author:      opts.Author,
		AuthorEmail: opts.AuthorEmail,
		License:     opts.License,
	}
	err = r.Render(ctx, ref, TemplateData(app, nil), dst)
	if err != nil {
		os.RemoveAll(dst)
		return "", err
	}
	if _, err := os.Stat(filepath.Join(dst, ManifestFile)); err != nil {
		os.RemoveAll(dst)
		return "", &TemplateError{Template: ref.URL, Err: xerrors.Errorf("template did not produce a %s", ManifestFile)}
	}

	log.WithField("app", opts.AppName).WithField("path", dst).Debug("created new project")
	return dst, nil
}
