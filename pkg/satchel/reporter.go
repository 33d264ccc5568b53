package satchel

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/gookit/color"
	"github.com/segmentio/textio"
)

// Reporter provides feedback about stage progress to the user.
//
// Implementers beware: StageLog is called while subprocesses run. Blocking in it blocks their output.
type Reporter interface {
	// StageStarted is called when a stage of an app starts. Stages that run implicitly
	// (e.g. the update preceding a build) are reported as well.
	StageStarted(app *AppConfig, stage Stage)

	// StageLog is called whenever a subprocess of a stage produced output.
	StageLog(app *AppConfig, isErr bool, buf []byte)

	// StageFinished is called when a stage has finished. If an error is passed in the stage failed.
	StageFinished(app *AppConfig, stage Stage, err error)
}

// ConsoleReporter reports progress by printing to a terminal
type ConsoleReporter struct {
	out    io.Writer
	writer map[string]io.Writer
	times  map[string]time.Time
	mu     sync.Mutex
}

// exclusiveWriter makes a write an exclusive resource by protecting Write calls with a mutex.
type exclusiveWriter struct {
	O  io.Writer
	mu sync.Mutex
}

func (w *exclusiveWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.O.Write(p)
}

// NewConsoleReporter produces a new console reporter writing to stdout
func NewConsoleReporter() *ConsoleReporter {
	return NewConsoleReporterTo(os.Stdout)
}

// NewConsoleReporterTo produces a console reporter writing to out
func NewConsoleReporterTo(out io.Writer) *ConsoleReporter {
	return &ConsoleReporter{
		out:    out,
		writer: make(map[string]io.Writer),
		times:  make(map[string]time.Time),
	}
}

func (r *ConsoleReporter) getWriter(app *AppConfig) io.Writer {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.writer[app.AppName]
	if !ok {
		res = &exclusiveWriter{O: textio.NewPrefixWriter(r.out, color.Gray.Render(fmt.Sprintf("[%s] ", app.AppName)))}
		r.writer[app.AppName] = res
	}
	return res
}

func stageKey(app *AppConfig, stage Stage) string {
	return app.AppName + "/" + string(stage)
}

// StageStarted implements Reporter
func (r *ConsoleReporter) StageStarted(app *AppConfig, stage Stage) {
	out := r.getWriter(app)

	r.mu.Lock()
	r.times[stageKey(app, stage)] = time.Now()
	r.mu.Unlock()

	target := app.Platform
	if app.Format != "" {
		target += " " + app.Format
	}
	io.WriteString(out, color.Sprintf("<fg=yellow>%s started</> <gray>(%s, version %s)</>\n", stage, target, app.Version))
}

// StageLog implements Reporter
func (r *ConsoleReporter) StageLog(app *AppConfig, isErr bool, buf []byte) {
	r.getWriter(app).Write(buf)
}

// StageFinished implements Reporter
func (r *ConsoleReporter) StageFinished(app *AppConfig, stage Stage, err error) {
	out := r.getWriter(app)

	r.mu.Lock()
	dur := time.Since(r.times[stageKey(app, stage)])
	delete(r.times, stageKey(app, stage))
	r.mu.Unlock()

	msg := color.Sprintf("<green>%s succeeded</> <gray>(%.2fs)</>\n", stage, dur.Seconds())
	if err != nil {
		msg = color.Sprintf("<red>%s failed</>\n<white>Reason:</> %s\n", stage, err)
	}
	io.WriteString(out, msg)
}

// CompositeReporter forwards all calls to multiple reporters
type CompositeReporter []Reporter

// StageStarted implements Reporter
func (cr CompositeReporter) StageStarted(app *AppConfig, stage Stage) {
	for _, r := range cr {
		r.StageStarted(app, stage)
	}
}

// StageLog implements Reporter
func (cr CompositeReporter) StageLog(app *AppConfig, isErr bool, buf []byte) {
	for _, r := range cr {
		r.StageLog(app, isErr, buf)
	}
}

// StageFinished implements Reporter
func (cr CompositeReporter) StageFinished(app *AppConfig, stage Stage, err error) {
	for _, r := range cr {
		r.StageFinished(app, stage, err)
	}
}

// NoopReporter discards all feedback
type NoopReporter struct{}

// StageStarted implements Reporter
func (NoopReporter) StageStarted(app *AppConfig, stage Stage) {}

// StageLog implements Reporter
func (NoopReporter) StageLog(app *AppConfig, isErr bool, buf []byte) {}

// StageFinished implements Reporter
func (NoopReporter) StageFinished(app *AppConfig, stage Stage, err error) {}

// reporterStream forwards subprocess output to a reporter
type reporterStream struct {
	R     Reporter
	App   *AppConfig
	IsErr bool
}

func (s *reporterStream) Write(buf []byte) (n int, err error) {
	if s.R != nil {
		s.R.StageLog(s.App, s.IsErr, buf)
	}
	return len(buf), nil
}
