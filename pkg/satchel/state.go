package satchel

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

const (
	// StateDir is the directory inside a bundle satchel keeps its bookkeeping in
	StateDir = ".satchel"

	stateFile = "state.yaml"
)

// State is the lifecycle position of an app bundle
type State int

const (
	// StateAbsent means no bundle exists
	StateAbsent State = iota
	// StateCreated means the scaffold was rendered
	StateCreated
	// StateUpdated means app code and requirements are in place
	StateUpdated
	// StateBuilt means the app can be run
	StateBuilt
	// StatePackaged means a distributable artifact exists
	StatePackaged
	// StatePublished means the artifact was published
	StatePublished
	// StateFailed is reported for a stage that did not succeed. It is never persisted.
	StateFailed
)

var stateNames = map[State]string{
	StateAbsent:    "absent",
	StateCreated:   "created",
	StateUpdated:   "updated",
	StateBuilt:     "built",
	StatePackaged:  "packaged",
	StatePublished: "published",
	StateFailed:    "failed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalYAML marshals the state by name
func (s State) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}

// UnmarshalYAML unmarshals a state name
func (s *State) UnmarshalYAML(value *yaml.Node) error {
	for st, n := range stateNames {
		if n == value.Value {
			*s = st
			return nil
		}
	}
	return xerrors.Errorf("unknown state %q", value.Value)
}

// BuildState is what satchel remembers about a bundle between invocations
type BuildState struct {
	// Stage is the state reached by the last successful stage
	Stage State `yaml:"stage"`

	ScaffoldFingerprint     string `yaml:"scaffold,omitempty"`
	RequirementsFingerprint string `yaml:"requirements,omitempty"`

	// TestMode and Debugger record the mode of the last update
	TestMode bool   `yaml:"testMode,omitempty"`
	Debugger string `yaml:"debugger,omitempty"`

	Artifact *Artifact `yaml:"artifact,omitempty"`

	Timestamp time.Time `yaml:"timestamp"`
	BuiltAt   time.Time `yaml:"builtAt,omitempty"`
}

// StateTracker persists build state inside the bundle it describes
type StateTracker struct {
	Now func() time.Time
}

// Path returns the location of the state file of a bundle
func (t *StateTracker) Path(bundlePath string) string {
	return filepath.Join(bundlePath, StateDir, stateFile)
}

// Load reads the state of a bundle. A missing bundle yields StateAbsent.
// A bundle directory without state file is reported as created so that it is never overwritten silently.
func (t *StateTracker) Load(bundlePath string) (*BuildState, error) {
	fc, err := os.ReadFile(t.Path(bundlePath))
	if os.IsNotExist(err) {
		if _, serr := os.Stat(bundlePath); serr == nil {
			log.WithField("bundle", bundlePath).Debug("bundle exists without build state")
			return &BuildState{Stage: StateCreated}, nil
		}
		return &BuildState{Stage: StateAbsent}, nil
	}
	if err != nil {
		return nil, xerrors.Errorf("cannot read build state: %w", err)
	}

	var res BuildState
	err = yaml.Unmarshal(fc, &res)
	if err != nil {
		return nil, xerrors.Errorf("cannot parse build state %s: %w", t.Path(bundlePath), err)
	}
	return &res, nil
}

// Save writes the state of a bundle. The file is replaced atomically.
func (t *StateTracker) Save(bundlePath string, state *BuildState) error {
	if state.Stage == StateFailed || state.Stage == StateAbsent {
		return xerrors.Errorf("cannot persist state %s", state.Stage)
	}

	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	state.Timestamp = now().UTC()

	fc, err := yaml.Marshal(state)
	if err != nil {
		return err
	}

	fn := t.Path(bundlePath)
	err = os.MkdirAll(filepath.Dir(fn), 0755)
	if err != nil {
		return err
	}
	tmp := fn + ".tmp"
	err = os.WriteFile(tmp, fc, 0644)
	if err != nil {
		return err
	}
	err = os.Rename(tmp, fn)
	if err != nil {
		return xerrors.Errorf("cannot write build state: %w", err)
	}

	log.WithField("bundle", bundlePath).WithField("stage", state.Stage).Debug("saved build state")
	return nil
}
