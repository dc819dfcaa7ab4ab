package main

import (
	"io"
	"os"

	"github.com/alecthomas/kingpin/v2"
	"github.com/fatih/color"
	colorable "github.com/mattn/go-colorable"
	isatty "github.com/mattn/go-isatty"
	"github.com/pkg/profile"

	"github.com/kopia/imageintact/config"
	"github.com/kopia/imageintact/internal/logging"
)

var log = logging.Module("imageintact/cli")

//nolint:gochecknoglobals
var (
	noteColor    = color.New(color.FgHiCyan)
	warningColor = color.New(color.FgYellow)
	errorColor   = color.New(color.FgHiRed)
)

// app holds the CLI's process-wide state: the loaded preference store, the
// chosen stdout/stderr writers (colorable so Windows terminals render ANSI
// codes), and the first error a command action produced.
type app struct {
	configPath  string
	profileMode string

	cfg config.Config

	stdoutWriter io.Writer
	stderrWriter io.Writer
	colorEnabled bool

	exitErr error

	stopProfile func() error
}

func newApp() *app {
	stdout := colorable.NewColorableStdout()
	colorEnabled := isatty.IsTerminal(os.Stdout.Fd())

	color.NoColor = !colorEnabled

	return &app{
		stdoutWriter: stdout,
		stderrWriter: colorable.NewColorableStderr(),
		colorEnabled: colorEnabled,
	}
}

func (a *app) setup(kp *kingpin.Application) {
	kp.Flag("config", "Path to the preference store YAML file.").StringVar(&a.configPath)
	kp.Flag("profile", "Hidden developer flag: wrap the run in a pprof CPU profile ('cpu' or 'mem').").Hidden().StringVar(&a.profileMode)

	kp.PreAction(func(*kingpin.ParseContext) error {
		return a.loadConfig()
	})

	a.setupBackup(kp)
	a.setupStatus(kp)
	a.setupCancel(kp)
	a.setupSchedule(kp)
	a.setupDebug(kp)
	a.setupOpenLogs(kp)
}

func (a *app) loadConfig() error {
	path := a.configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}

		path = p
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	a.cfg = cfg

	if a.profileMode != "" {
		a.startProfile()
	}

	return nil
}

func (a *app) startProfile() {
	var opt func(*profile.Profile)

	switch a.profileMode {
	case "mem":
		opt = profile.MemProfile
	default:
		opt = profile.CPUProfile
	}

	stopper := profile.Start(opt, profile.ProfilePath("."), profile.NoShutdownHook)
	a.stopProfile = func() error {
		stopper.Stop()
		return nil
	}
}

func (a *app) printf(format string, args ...interface{}) {
	_, _ = noteColor.Fprintf(a.stdoutWriter, format, args...)
}

func (a *app) warnf(format string, args ...interface{}) {
	_, _ = warningColor.Fprintf(a.stderrWriter, format, args...)
}

func (a *app) errorf(format string, args ...interface{}) {
	_, _ = errorColor.Fprintf(a.stderrWriter, format, args...)
}

func (a *app) fail(err error) error {
	a.exitErr = err
	return err
}
