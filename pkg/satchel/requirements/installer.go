package requirements

import (
	"context"
	"fmt"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/gitpod-io/satchel/pkg/satchel"
)

// Installer installs requirements with pip. For cross-compiled targets every named
// requirement is checked against the package indexes before pip runs.
type Installer struct {
	Tools  satchel.ToolLocator
	Runner satchel.Runner
	Index  Index
	// PrimaryIndex is consulted before the target's own indexes
	PrimaryIndex string
}

// NewInstaller produces an installer using pip from the located Python
func NewInstaller(tools satchel.ToolLocator, runner satchel.Runner) *Installer {
	return &Installer{
		Tools:        tools,
		Runner:       runner,
		Index:        NewSimpleIndex(),
		PrimaryIndex: DefaultIndex,
	}
}

// Install implements satchel.RequirementInstaller. The target directory is replaced
// once every requirement has been checked and pip is about to run.
func (i *Installer) Install(ctx context.Context, requires []string, target string, platform satchel.TargetPlatform) (*satchel.InstallResult, error) {
	res := &satchel.InstallResult{Target: target}
	if len(requires) == 0 {
		log.WithField("target", target).Debug("no requirements to install")
		err := replaceDir(target)
		if err != nil {
			return nil, err
		}
		return res, nil
	}

	if platform.CrossCompiled {
		err := i.checkBinaryAvailability(ctx, requires, platform)
		if err != nil {
			return nil, err
		}
	}

	python, err := i.Tools.Require(ctx, "python", nil)
	if err != nil {
		return nil, err
	}

	err = replaceDir(target)
	if err != nil {
		return nil, err
	}

	args := i.pipArgs(requires, target, platform)
	log.WithField("platform", platform.Name).WithField("requires", requires).Info("installing requirements")
	out, err := i.Runner.Run(ctx, satchel.Command{Name: python.Path, Args: args})
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		var stderr string
		if out != nil {
			stderr = strings.TrimSpace(string(out.Stderr))
		}
		return nil, &satchel.InstallError{Platform: platform.Name, Stderr: stderr, Err: err}
	}

	res.Installed = append(res.Installed, requires...)
	return res, nil
}

func replaceDir(dir string) error {
	err := os.RemoveAll(dir)
	if err != nil {
		return xerrors.Errorf("cannot remove old requirements: %w", err)
	}
	return os.MkdirAll(dir, 0755)
}

func (i *Installer) pipArgs(requires []string, target string, platform satchel.TargetPlatform) []string {
	args := []string{
		"-m", "pip", "install",
		"--disable-pip-version-check",
		"--upgrade",
		"--no-user",
		"--target=" + target,
	}
	if platform.CrossCompiled {
		args = append(args, "--only-binary=:all:", "--index-url", i.primaryIndex())
		for _, idx := range platform.Indexes {
			args = append(args, "--extra-index-url", idx)
		}
	}
	args = append(args, platform.PipArgs...)
	return append(args, requires...)
}

func (i *Installer) primaryIndex() string {
	if i.PrimaryIndex == "" {
		return DefaultIndex
	}
	return i.PrimaryIndex
}

// checkBinaryAvailability makes sure every requirement can be installed without building it from source
func (i *Installer) checkBinaryAvailability(ctx context.Context, requires []string, platform satchel.TargetPlatform) error {
	indexes := append([]string{i.primaryIndex()}, platform.Indexes...)

	for _, req := range requires {
		name := ProjectName(req)
		if name == "" {
			err := checkDirectReference(req, platform)
			if err != nil {
				return err
			}
			continue
		}

		spec := Specifier(req)
		constraint, err := ParseSpecifier(spec)
		if err != nil {
			log.WithError(err).WithField("requirement", req).Debug("cannot interpret version specifier, checking all releases")
			constraint = nil
		}

		var (
			best    = KindMissing
			offered bool
		)
		for _, idx := range indexes {
			files, err := i.Index.Files(ctx, idx, name)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return &satchel.InstallError{Platform: platform.Name, Err: err}
			}
			offered = offered || len(files) > 0
			if k := Classify(FilterFiles(files, constraint), platform.WheelTags); k > best {
				best = k
			}
			if best >= KindBinary {
				break
			}
		}

		log.WithField("requirement", req).WithField("platform", platform.Name).WithField("kind", best).Debug("classified requirement")
		switch best {
		case KindMissing:
			reason := "it is not available on any package index"
			if offered {
				reason = fmt.Sprintf("no release matching %s is available", spec)
			}
			return &satchel.IncompatibleDependencyError{Requirement: req, Platform: platform.Name, Reason: reason}
		case KindSourceOnly:
			return &satchel.IncompatibleDependencyError{
				Requirement: req,
				Platform:    platform.Name,
				Reason:      "no binary wheel is published for this platform and it cannot be built from source",
			}
		}
	}
	return nil
}

func checkDirectReference(req string, platform satchel.TargetPlatform) error {
	ref := strings.TrimSpace(req)
	if idx := strings.Index(ref, " @ "); idx >= 0 {
		ref = strings.TrimSpace(ref[idx+3:])
	}

	w, ok := ParseWheel(ref)
	if !ok {
		return &satchel.IncompatibleDependencyError{
			Requirement: req,
			Platform:    platform.Name,
			Reason:      "only wheels can be installed for cross-compiled platforms, not source trees or archives",
		}
	}
	if !w.IsPure() && !w.Matches(platform.WheelTags) {
		return &satchel.IncompatibleDependencyError{
			Requirement: req,
			Platform:    platform.Name,
			Reason:      "the wheel is built for another platform",
		}
	}
	return nil
}
