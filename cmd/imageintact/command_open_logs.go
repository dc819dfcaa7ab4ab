package main

import (
	"path/filepath"

	"github.com/alecthomas/kingpin/v2"
	"github.com/skratchdot/open-golang/open"
)

func (a *app) setupOpenLogs(kp *kingpin.Application) {
	cmd := kp.Command("open-logs", "Open a destination's action log directory in the system file browser.")

	var mountPath string

	cmd.Arg("destination", "Destination mount path.").Required().StringVar(&mountPath)

	cmd.Action(func(*kingpin.ParseContext) error {
		return a.fail(a.runOpenLogs(mountPath))
	})
}

func (a *app) runOpenLogs(mountPath string) error {
	dir := filepath.Join(mountPath, actionLogsDirName)

	if err := open.Run(dir); err != nil {
		return err
	}

	a.printf("opened %s\n", dir)

	return nil
}
