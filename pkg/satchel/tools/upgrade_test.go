package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitpod-io/satchel/pkg/satchel"
)

func upgradeRegistry(t *testing.T, url string) *Registry {
	t.Helper()

	reg := testRegistry(t, nil, nil, nil)
	reg.tools = make(map[string]*Tool)
	reg.Add(&Tool{
		Name: "fake",
		Download: func(goos, goarch string) *Download {
			return &Download{URL: url, Version: "2.0", Archive: TarGz, Executable: "bin/fake", StripComponents: 1}
		},
	})
	reg.Add(&Tool{
		Name: "other",
		Download: func(goos, goarch string) *Download {
			return &Download{URL: url, Version: "1.0", Archive: TarGz, Executable: "bin/fake", StripComponents: 1}
		},
	})
	reg.Add(&Tool{Name: "system", Executables: []string{"system"}})
	return reg
}

func installVersion(t *testing.T, reg *Registry, name, version string) {
	t.Helper()
	p, _ := reg.Cache.Location(name, version)
	touch(t, filepath.Join(p, "bin", "fake"))
}

func TestManaged(t *testing.T) {
	reg := upgradeRegistry(t, "http://unused")
	installVersion(t, reg, "fake", "1.0")
	installVersion(t, reg, "fake", "2.0")
	installVersion(t, reg, "other", "1.0")
	// leftovers of an interrupted installation are not versions
	require.NoError(t, os.MkdirAll(filepath.Join(reg.Cache.Origin, "tools", "other", ".staging-123"), 0755))

	managed, err := reg.Managed()
	require.NoError(t, err)
	expectation := []ManagedTool{
		{Name: "fake", Installed: []string{"1.0", "2.0"}, Current: "2.0"},
		{Name: "other", Installed: []string{"1.0"}, Current: "1.0"},
	}
	if diff := cmp.Diff(expectation, managed); diff != "" {
		t.Errorf("Managed() mismatch (-want +got):\n%s", diff)
	}
	assert.False(t, managed[0].UpToDate())
	assert.True(t, managed[1].UpToDate())

	_, err = reg.Managed("nope")
	var cfgErr *satchel.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "does not know how to manage nope")
}

func TestUpgrade(t *testing.T) {
	archive := tarGz(t, map[string]string{"fake-2.0/bin/fake": "#!/bin/sh"})
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	reg := upgradeRegistry(t, srv.URL+"/fake.tar.gz")
	installVersion(t, reg, "fake", "1.0")
	installVersion(t, reg, "other", "1.0")

	res, err := reg.Upgrade(context.Background())
	require.NoError(t, err)
	expectation := []ManagedTool{
		{Name: "fake", Installed: []string{"2.0"}, Current: "2.0"},
		{Name: "other", Installed: []string{"1.0"}, Current: "1.0"},
	}
	if diff := cmp.Diff(expectation, res); diff != "" {
		t.Errorf("Upgrade() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))

	installed, err := reg.Cache.Installed("fake")
	require.NoError(t, err)
	assert.Equal(t, []string{"2.0"}, installed)
	p, _ := reg.Cache.Location("fake", "2.0")
	assert.FileExists(t, filepath.Join(p, "bin", "fake"))

	// nothing left to do
	_, err = reg.Upgrade(context.Background(), "fake")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))
}

func TestUpgradeUnmanaged(t *testing.T) {
	reg := upgradeRegistry(t, "http://unused")
	installVersion(t, reg, "other", "1.0")

	_, err := reg.Upgrade(context.Background(), "system")
	var cfgErr *satchel.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "not managing system")

	// a managed tool among the names is upgraded anyway
	res, err := reg.Upgrade(context.Background(), "system", "other")
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "other", res[0].Name)
}
