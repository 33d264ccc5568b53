package satchel

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

const (
	// templateRoot is the directory of a template repository whose contents get rendered.
	// Repositories without it are rendered as a whole.
	templateRoot = "template"

	// templateSuffix marks files whose content is rendered. All other files are copied verbatim.
	templateSuffix = ".tmpl"

	builtinPrefix = "builtin:"
)

var nonPathChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// TemplateRenderer renders templates from local directories, git repositories or built-in file systems
type TemplateRenderer struct {
	// CacheDir holds clones of remote templates
	CacheDir string
	Runner   Runner
	Tools    ToolLocator
	// Builtin templates are referenced as "builtin:<name>"
	Builtin map[string]fs.FS
}

// Render implements Renderer
func (r *TemplateRenderer) Render(ctx context.Context, ref TemplateRef, data map[string]interface{}, dst string) error {
	fsys, err := r.obtain(ctx, ref)
	if err != nil {
		return &TemplateError{Template: ref.URL, Err: err}
	}

	if stat, err := fs.Stat(fsys, templateRoot); err == nil && stat.IsDir() {
		fsys, err = fs.Sub(fsys, templateRoot)
		if err != nil {
			return &TemplateError{Template: ref.URL, Err: err}
		}
	}

	err = renderFS(fsys, data, dst)
	if err != nil {
		return &TemplateError{Template: ref.URL, Err: err}
	}
	log.WithField("template", ref.URL).WithField("dst", dst).Debug("rendered template")
	return nil
}

func (r *TemplateRenderer) obtain(ctx context.Context, ref TemplateRef) (fs.FS, error) {
	switch {
	case ref.URL == "":
		return nil, xerrors.Errorf("no template configured")
	case strings.HasPrefix(ref.URL, builtinPrefix):
		fsys, ok := r.Builtin[strings.TrimPrefix(ref.URL, builtinPrefix)]
		if !ok {
			return nil, xerrors.Errorf("unknown built-in template")
		}
		return fsys, nil
	case isLocalPath(ref.URL):
		stat, err := os.Stat(ref.URL)
		if err != nil {
			return nil, err
		}
		if !stat.IsDir() {
			return nil, xerrors.Errorf("%s is not a directory", ref.URL)
		}
		return os.DirFS(ref.URL), nil
	default:
		dir, err := r.clone(ctx, ref)
		if err != nil {
			return nil, err
		}
		return os.DirFS(dir), nil
	}
}

func isLocalPath(url string) bool {
	if strings.Contains(url, "://") || strings.HasPrefix(url, "git@") {
		return false
	}
	_, err := os.Stat(url)
	return err == nil || filepath.IsAbs(url) || strings.HasPrefix(url, ".")
}

// clone makes sure the cache holds an up-to-date checkout of the template
func (r *TemplateRenderer) clone(ctx context.Context, ref TemplateRef) (string, error) {
	if r.Tools == nil || r.Runner == nil {
		return "", xerrors.Errorf("cannot fetch remote templates without git")
	}
	git, err := r.Tools.Require(ctx, "git", nil)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(r.CacheDir, "templates", nonPathChars.ReplaceAllString(strings.TrimSuffix(ref.URL, ".git"), "_"))
	runGit := func(cwd string, args ...string) error {
		res, err := r.Runner.Run(ctx, Command{Name: git.Path, Args: args, Dir: cwd})
		if err != nil && res != nil && len(res.Stderr) > 0 {
			return xerrors.Errorf("%w: %s", err, strings.TrimSpace(string(res.Stderr)))
		}
		return err
	}

	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		err = os.MkdirAll(filepath.Dir(dir), 0755)
		if err != nil {
			return "", err
		}
		args := []string{"clone", "--quiet"}
		if ref.Branch != "" {
			args = append(args, "--branch", ref.Branch)
		}
		args = append(args, ref.URL, dir)
		err = runGit("", args...)
		if err != nil {
			os.RemoveAll(dir)
			return "", xerrors.Errorf("cannot clone template: %w", err)
		}
		return dir, nil
	}

	err = runGit(dir, "fetch", "--quiet", "origin")
	if err != nil {
		log.WithError(err).WithField("template", ref.URL).Warn("cannot update template, using cached copy")
	}
	target := "origin/HEAD"
	if ref.Branch != "" {
		target = "origin/" + ref.Branch
	}
	err = runGit(dir, "checkout", "--quiet", "--force", target)
	if err != nil {
		return "", xerrors.Errorf("template has no branch %s: %w", ref.Branch, err)
	}
	return dir, nil
}

func renderFS(fsys fs.FS, data map[string]interface{}, dst string) error {
	funcs := sprig.TxtFuncMap()
	renderString := func(name, tpl string) (string, error) {
		if !strings.Contains(tpl, "{{") {
			return tpl, nil
		}
		t, err := template.New(name).Funcs(funcs).Parse(tpl)
		if err != nil {
			return "", err
		}
		var buf bytes.Buffer
		err = t.Execute(&buf, data)
		if err != nil {
			return "", err
		}
		return buf.String(), nil
	}

	// rendered maps template directories to their rendered location; "" marks skipped directories
	rendered := map[string]string{".": dst}
	return fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == "." {
			return os.MkdirAll(dst, 0755)
		}
		if d.Name() == ".git" {
			return fs.SkipDir
		}

		parent, ok := rendered[path.Dir(p)]
		if !ok || parent == "" {
			return nil
		}
		name, err := renderString(p, d.Name())
		if err != nil {
			return xerrors.Errorf("cannot render name of %s: %w", p, err)
		}
		if name == "" {
			// empty names allow templates to skip files and directories conditionally
			if d.IsDir() {
				rendered[p] = ""
			}
			return nil
		}
		target := filepath.Join(parent, name)

		if d.IsDir() {
			rendered[p] = target
			return os.MkdirAll(target, 0755)
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		fc, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		if strings.HasSuffix(name, templateSuffix) {
			target = strings.TrimSuffix(target, templateSuffix)
			content, err := renderString(p, string(fc))
			if err != nil {
				return xerrors.Errorf("cannot render %s: %w", p, err)
			}
			fc = []byte(content)
		}
		return os.WriteFile(target, fc, info.Mode().Perm()|0200)
	})
}

// TemplateData produces the values a template is rendered with
func TemplateData(app *AppConfig, extra map[string]interface{}) map[string]interface{} {
	res := map[string]interface{}{
		"AppName":     app.AppName,
		"FormalName":  app.FormalName,
		"ModuleName":  app.ModuleName(),
		"ClassName":   app.ClassName(),
		"Bundle":      app.Bundle,
		"BundleID":    app.BundleID(),
		"Version":     app.Version,
		"Description": app.Description,
		"URL":         app.URL,
		"Author":      app.Author,
		"AuthorEmail": app.AuthorEmail,
		"License":     app.License,
		"Platform":    app.Platform,
		"Format":      app.Format,
		"Settings":    app.Settings,
	}
	for k, v := range extra {
		res[k] = v
	}
	return res
}
