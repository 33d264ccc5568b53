package cmd

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// diagnostics collects every log entry of an invocation so that it can be written to the project's
// log folder, or to the log folder of the working directory when no project was found
type diagnostics struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	formatter log.Formatter

	command    string
	invocation string
	started    time.Time
	project    string
	workdir    string
}

func (d *diagnostics) Levels() []log.Level { return log.AllLevels }

func (d *diagnostics) Fire(e *log.Entry) error {
	line, err := d.formatter.Format(e)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.buf.Write(line)
	return nil
}

// consoleHook forwards entries up to a maximum level to the terminal
type consoleHook struct {
	out       io.Writer
	maxLevel  log.Level
	formatter log.Formatter
}

func (c *consoleHook) Levels() []log.Level {
	var res []log.Level
	for _, l := range log.AllLevels {
		if l <= c.maxLevel {
			res = append(res, l)
		}
	}
	return res
}

func (c *consoleHook) Fire(e *log.Entry) error {
	line, err := c.formatter.Format(e)
	if err != nil {
		return err
	}
	_, err = c.out.Write(line)
	return err
}

var diag *diagnostics

// setupLogging sends everything to the diagnostic log and Info (Debug when verbose) to the console
func setupLogging(command string, verbose bool) {
	consoleLevel := log.InfoLevel
	if verbose {
		consoleLevel = log.DebugLevel
	}

	diag = &diagnostics{
		formatter:  &log.TextFormatter{DisableColors: true, FullTimestamp: true},
		command:    command,
		invocation: uuid.New().String(),
		started:    time.Now(),
	}
	if wd, err := os.Getwd(); err == nil {
		diag.workdir = wd
	}

	log.SetLevel(log.DebugLevel)
	log.SetOutput(io.Discard)
	log.StandardLogger().ReplaceHooks(make(log.LevelHooks))
	log.AddHook(&consoleHook{
		out:       os.Stderr,
		maxLevel:  consoleLevel,
		formatter: &log.TextFormatter{ForceColors: isTerminal(os.Stderr), DisableTimestamp: true},
	})
	log.AddHook(diag)

	log.WithField("invocation", diag.invocation).WithField("args", os.Args).Debug("starting satchel")
}

// setLogProject makes the diagnostic log go to the project's log folder
func setLogProject(root string) {
	if diag == nil {
		return
	}
	diag.mu.Lock()
	diag.project = root
	diag.mu.Unlock()
}

// finishLogging writes the diagnostic log. The log is kept for failures and successes alike.
func finishLogging(cmdErr error) {
	if diag == nil {
		return
	}
	if cmdErr != nil {
		log.WithError(cmdErr).Debug("command failed")
	} else {
		log.Debug("command succeeded")
	}

	fn, err := diag.write()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot write diagnostic log: %v\n", err)
		return
	}
	if cmdErr != nil {
		fmt.Fprintf(os.Stderr, "The full log was saved to %s\n", fn)
	}
}

func (d *diagnostics) write() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	root := d.project
	if root == "" {
		root = d.workdir
	}
	if root == "" {
		return "", xerrors.Errorf("neither a project nor a working directory is known")
	}

	dir := filepath.Join(root, "logs")
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return "", err
	}
	fn := filepath.Join(dir, fmt.Sprintf("satchel-%s-%s.log", d.started.Format("2006_01_02-15_04_05"), d.command))

	header := fmt.Sprintf("satchel %s\ninvocation: %s\ncommand: %v\n\n", versionString(), d.invocation, os.Args)
	return fn, os.WriteFile(fn, append([]byte(header), d.buf.Bytes()...), 0644)
}
