package publish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/gitpod-io/satchel/pkg/satchel"
)

// DirectoryChannelName is the name apps use to select the directory channel
const DirectoryChannelName = "directory"

// DirectoryChannel copies artifacts into a local directory, e.g. a mounted share.
// It's configured with [tool.satchel.app.<name>.publish.directory] path = "...".
type DirectoryChannel struct {
	Path string
}

// NewDirectoryChannelFactory produces directory channels. Relative paths are resolved against basePath.
func NewDirectoryChannelFactory(basePath string) satchel.ChannelFactory {
	return func(ctx context.Context, app *satchel.AppConfig) (satchel.Channel, error) {
		dst, _ := app.Publish[DirectoryChannelName]["path"].(string)
		if dst == "" {
			return nil, &satchel.ConfigError{Msg: fmt.Sprintf("app %s: publishing to a directory requires publish.directory.path", app.AppName)}
		}
		if !filepath.IsAbs(dst) {
			dst = filepath.Join(basePath, dst)
		}
		return &DirectoryChannel{Path: dst}, nil
	}
}

// Name implements satchel.Channel
func (d *DirectoryChannel) Name() string { return DirectoryChannelName }

// RequiresSignature implements satchel.Channel
func (d *DirectoryChannel) RequiresSignature() bool { return false }

// Publish implements satchel.Channel
func (d *DirectoryChannel) Publish(ctx context.Context, app *satchel.AppConfig, artifact *satchel.Artifact) (string, error) {
	dst := filepath.Join(d.Path, app.AppName, app.Version, filepath.Base(artifact.Path))
	err := os.MkdirAll(filepath.Dir(dst), 0755)
	if err != nil {
		return "", err
	}
	err = os.RemoveAll(dst)
	if err != nil {
		return "", err
	}

	err = satchel.CopyTree(artifact.Path, dst)
	if err != nil {
		return "", xerrors.Errorf("cannot publish %s: %w", artifact.Path, err)
	}
	log.WithField("dst", dst).Debug("copied artifact")
	return dst, nil
}
