package tools

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/gitpod-io/satchel/pkg/satchel"
)

// ManagedTool is a tool satchel installed into its cache
type ManagedTool struct {
	Name string
	// Installed lists the cached versions
	Installed []string
	// Current is the version satchel installs today
	Current string
}

// UpToDate is true if the current version is the only one installed
func (m ManagedTool) UpToDate() bool {
	return len(m.Installed) == 1 && m.Installed[0] == m.Current
}

// Managed lists the tools with at least one cached installation that can be installed on this host.
// If names is not empty only those tools are considered; unknown names are a configuration error.
func (r *Registry) Managed(names ...string) ([]ManagedTool, error) {
	var unknown []string
	for _, n := range names {
		if _, ok := r.tools[n]; !ok {
			unknown = append(unknown, n)
		}
	}
	if len(unknown) > 0 {
		return nil, &satchel.ConfigError{Msg: fmt.Sprintf("satchel does not know how to manage %s", strings.Join(unknown, ", "))}
	}
	if len(names) == 0 {
		for n := range r.tools {
			names = append(names, n)
		}
	}
	sort.Strings(names)

	var res []ManagedTool
	if r.Cache == nil {
		return res, nil
	}
	for _, n := range names {
		t := r.tools[n]
		if t.Download == nil || !r.availableOnHost(t) {
			continue
		}
		d := t.Download(r.HostOS, r.HostArch)
		if d == nil {
			continue
		}
		installed, err := r.Cache.Installed(n)
		if err != nil {
			return nil, err
		}
		if len(installed) == 0 {
			continue
		}
		res = append(res, ManagedTool{Name: n, Installed: installed, Current: d.Version})
	}
	return res, nil
}

// Upgrade installs the current version of the named managed tools and removes all other cached
// versions. Without names every managed tool is upgraded. Naming only tools satchel does not
// manage is a configuration error; naming some is merely logged.
func (r *Registry) Upgrade(ctx context.Context, names ...string) ([]ManagedTool, error) {
	managed, err := r.Managed(names...)
	if err != nil {
		return nil, err
	}

	if len(names) > 0 {
		found := make(map[string]bool, len(managed))
		for _, m := range managed {
			found[m.Name] = true
		}
		var unmanaged []string
		for _, n := range names {
			if !found[n] {
				unmanaged = append(unmanaged, n)
			}
		}
		if len(unmanaged) > 0 {
			msg := fmt.Sprintf("satchel is not managing %s", strings.Join(unmanaged, ", "))
			if len(managed) == 0 {
				return nil, &satchel.ConfigError{Msg: msg}
			}
			log.Warn(msg)
		}
	}

	for i, m := range managed {
		if m.UpToDate() {
			log.WithField("tool", m.Name).WithField("version", m.Current).Info("tool is up to date")
			continue
		}

		t := r.tools[m.Name]
		d := t.Download(r.HostOS, r.HostArch)
		_, err := r.install(ctx, t, d)
		if err != nil {
			return nil, err
		}
		for _, v := range m.Installed {
			if v == d.Version {
				continue
			}
			p, _ := r.Cache.Location(m.Name, v)
			log.WithField("tool", m.Name).WithField("version", v).Info("removing outdated tool")
			err = os.RemoveAll(p)
			if err != nil {
				return nil, xerrors.Errorf("cannot remove %s %s: %w", m.Name, v, err)
			}
		}

		r.mu.Lock()
		delete(r.located, m.Name)
		r.mu.Unlock()
		managed[i].Installed = []string{d.Version}
	}
	return managed, nil
}
