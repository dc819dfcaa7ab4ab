package main

import (
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/hashicorp/cronexpr"
	"github.com/pkg/errors"
)

func (a *app) setupSchedule(kp *kingpin.Application) {
	cmd := kp.Command("schedule", "Run a backup repeatedly on a cron schedule, never overlapping.")

	var (
		cronExpr   string
		sourceRoot string
		destMounts []string
	)

	cmd.Arg("cron-expr", "Standard cron expression, e.g. \"0 */6 * * *\".").Required().StringVar(&cronExpr)
	cmd.Arg("source", "Source directory to back up.").Required().StringVar(&sourceRoot)
	cmd.Arg("destination", "Destination mount path(s).").Required().StringsVar(&destMounts)

	cmd.Action(func(*kingpin.ParseContext) error {
		return a.fail(a.runSchedule(cronExpr, sourceRoot, destMounts))
	})
}

// runSchedule fires one full orchestrator session per cron occurrence,
// computing the next fire time only after the previous session has fully
// completed so two sessions never run concurrently against the same
// destinations.
func (a *app) runSchedule(cronExpr, sourceRoot string, destMounts []string) error {
	schedule, err := cronexpr.Parse(cronExpr)
	if err != nil {
		return errors.Wrapf(err, "parse cron expression %q", cronExpr)
	}

	for {
		next := schedule.Next(time.Now())
		if next.IsZero() {
			return errors.Errorf("cron expression %q never fires again", cronExpr)
		}

		a.printf("next backup at %s\n", next.Format(time.RFC3339))
		time.Sleep(time.Until(next))

		if err := a.runBackup(sourceRoot, destMounts, false); err != nil {
			a.errorf("scheduled backup failed: %v\n", err)
		}
	}
}
