package satchel

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass groups errors by who has to act on them
type ErrorClass int

const (
	// ClassNone means no error
	ClassNone ErrorClass = iota
	// ClassBuild covers failures of the build itself or of the user's code
	ClassBuild
	// ClassConfig covers invalid configuration or user input
	ClassConfig
	// ClassEnvironment covers missing or unsuitable tools and hosts, and failing package indexes
	ClassEnvironment
	// ClassCancelled means the user interrupted the operation
	ClassCancelled
)

// Classify maps an error to its class
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}
	if errors.Is(err, context.Canceled) {
		return ClassCancelled
	}

	var (
		cfgErr      *ConfigError
		platErr     *UnsupportedPlatformError
		fmtErr      *UnsupportedFormatError
		dirErr      *DirectoryExistsError
		testErr     *PackagingTestBuildError
		chanErr     *NoPublicationChannelError
		precondErr  *PreconditionError
		srcErr      *MissingSourceError
		depErr      *IncompatibleDependencyError
		hostErr     *HostPlatformUnsupportedError
		toolErr     *ToolNotFoundError
		toolVerErr  *ToolVersionError
		templateErr *TemplateError
		installErr  *InstallError
	)
	switch {
	case errors.As(err, &cfgErr), errors.As(err, &platErr), errors.As(err, &fmtErr),
		errors.As(err, &dirErr), errors.As(err, &testErr), errors.As(err, &chanErr),
		errors.As(err, &precondErr), errors.As(err, &srcErr), errors.As(err, &depErr):
		return ClassConfig
	case errors.As(err, &hostErr), errors.As(err, &toolErr), errors.As(err, &toolVerErr), errors.As(err, &templateErr),
		errors.As(err, &installErr):
		return ClassEnvironment
	}
	return ClassBuild
}

// ConfigError reports an invalid project configuration
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	return "configuration error: " + e.Msg
}

func configErrorf(format string, args ...interface{}) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// UnsupportedPlatformError is returned when no backend is registered for a platform
type UnsupportedPlatformError struct {
	Platform string
	Known    []string
}

func (e *UnsupportedPlatformError) Error() string {
	return fmt.Sprintf("unsupported platform %q (known platforms: %s)", e.Platform, strings.Join(e.Known, ", "))
}

// UnsupportedFormatError is returned when a platform has no backend for a format
type UnsupportedFormatError struct {
	Platform string
	Format   string
	Known    []string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported format %q for platform %s (known formats: %s)", e.Format, e.Platform, strings.Join(e.Known, ", "))
}

// HostPlatformUnsupportedError is returned when a backend cannot run on this host
type HostPlatformUnsupportedError struct {
	Platform  string
	Format    string
	Host      string
	Supported []string
}

func (e *HostPlatformUnsupportedError) Error() string {
	return fmt.Sprintf("%s %s apps can only be built on %s, not on %s", e.Platform, e.Format, strings.Join(e.Supported, " or "), e.Host)
}

// ToolNotFoundError is returned when a required external tool cannot be located or installed
type ToolNotFoundError struct {
	Tool        string
	Remediation string
}

func (e *ToolNotFoundError) Error() string {
	msg := fmt.Sprintf("unable to locate %s", e.Tool)
	if e.Remediation != "" {
		msg += "\n" + e.Remediation
	}
	return msg
}

// ToolVersionError is returned when a tool is present but too old
type ToolVersionError struct {
	Tool    string
	Found   string
	Minimum string
}

func (e *ToolVersionError) Error() string {
	return fmt.Sprintf("%s %s is installed, but version %s or newer is required", e.Tool, e.Found, e.Minimum)
}

// TemplateError is returned when a template cannot be obtained or rendered
type TemplateError struct {
	Template string
	Err      error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("cannot use template %s: %v", e.Template, e.Err)
}

func (e *TemplateError) Unwrap() error { return e.Err }

// DirectoryExistsError is returned when create would overwrite an existing scaffold
type DirectoryExistsError struct {
	Path string
}

func (e *DirectoryExistsError) Error() string {
	return fmt.Sprintf("application bundle already exists at %s; use --clean to replace it", e.Path)
}

// BuildError is returned when a build command fails. Stderr holds the tail of the
// failing process' error output verbatim.
type BuildError struct {
	App     string
	Stage   Stage
	Command []string
	Stderr  string
	Err     error
}

func (e *BuildError) Error() string {
	msg := fmt.Sprintf("%s of %s failed", e.Stage, e.App)
	if len(e.Command) > 0 {
		msg += fmt.Sprintf(" (%s)", strings.Join(e.Command, " "))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += "\n" + e.Stderr
	}
	return msg
}

func (e *BuildError) Unwrap() error { return e.Err }

// InstallError is returned when installing requirements fails
type InstallError struct {
	Platform string
	Stderr   string
	Err      error
}

func (e *InstallError) Error() string {
	msg := fmt.Sprintf("unable to install requirements for %s", e.Platform)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += "\n" + e.Stderr
	}
	msg += "\nThis may be caused by a requirement that has no build for this platform, or by a network problem."
	return msg
}

func (e *InstallError) Unwrap() error { return e.Err }

// IncompatibleDependencyError is returned when a requirement has no usable binary for a cross-compiled target
type IncompatibleDependencyError struct {
	Requirement string
	Platform    string
	Reason      string
}

func (e *IncompatibleDependencyError) Error() string {
	return fmt.Sprintf("requirement %s cannot be installed for %s: %s", e.Requirement, e.Platform, e.Reason)
}

// PackagingTestBuildError is returned when packaging a build made in test or debug mode
type PackagingTestBuildError struct {
	App  string
	Mode string
}

func (e *PackagingTestBuildError) Error() string {
	return fmt.Sprintf("%s was built in %s mode and cannot be packaged; rebuild it without --%s first", e.App, e.Mode, e.Mode)
}

// NoPublicationChannelError is returned when publish has no usable channel
type NoPublicationChannelError struct {
	App     string
	Channel string
	Known   []string
}

func (e *NoPublicationChannelError) Error() string {
	if e.Channel == "" {
		return fmt.Sprintf("no publication channel configured for %s (available: %s)", e.App, strings.Join(e.Known, ", "))
	}
	return fmt.Sprintf("unknown publication channel %q for %s (available: %s)", e.Channel, e.App, strings.Join(e.Known, ", "))
}

// PreconditionError is returned when a stage requires a state the bundle has not reached
type PreconditionError struct {
	App      string
	Stage    Stage
	State    State
	Required State
}

func (e *PreconditionError) Error() string {
	if e.State == StateAbsent {
		return fmt.Sprintf("cannot %s %s: the application bundle does not exist yet; run create first", e.Stage, e.App)
	}
	return fmt.Sprintf("cannot %s %s: bundle is %s but must be at least %s", e.Stage, e.App, e.State, e.Required)
}

// MissingSourceError is returned when an app source path does not exist
type MissingSourceError struct {
	App    string
	Source string
}

func (e *MissingSourceError) Error() string {
	return fmt.Sprintf("source %q of %s does not exist", e.Source, e.App)
}
