package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kopia/imageintact/controlapi"
	"github.com/kopia/imageintact/destination"
	"github.com/kopia/imageintact/eventsink"
	"github.com/kopia/imageintact/internal/sourcetag"
	"github.com/kopia/imageintact/internal/telemetry"
	"github.com/kopia/imageintact/orchestrator"
	"github.com/kopia/imageintact/pipeline"
	"github.com/kopia/imageintact/progress"
	"github.com/kopia/imageintact/session"
)

// appVersion is stamped into every source-root marker this build writes.
const appVersion = "imageintact-dev"

func (a *app) setupBackup(kp *kingpin.Application) {
	cmd := kp.Command("backup", "Copy and verify a source tree to one or more destinations.")

	var (
		sourceRoot   string
		destMounts   []string
		confirmReuse bool
	)

	cmd.Arg("source", "Source directory to back up.").Required().StringVar(&sourceRoot)
	cmd.Arg("destination", "Destination mount path(s).").Required().StringsVar(&destMounts)
	cmd.Flag("confirm-reuse", "Confirm reusing an already-tagged source as a destination.").BoolVar(&confirmReuse)

	cmd.Action(func(*kingpin.ParseContext) error {
		return a.fail(a.runBackup(sourceRoot, destMounts, confirmReuse))
	})
}

func (a *app) runBackup(sourceRoot string, destMounts []string, confirmReuse bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:       a.cfg.OTelExporterEndpoint,
		ServiceName:    "imageintact",
		ServiceVersion: appVersion,
	})
	if err != nil {
		return errors.Wrap(err, "init telemetry")
	}

	defer shutdownTelemetry(context.Background()) //nolint:errcheck

	if tagged, err := sourcetag.IsTaggedAsSource(sourceRoot); err == nil && !tagged {
		if _, err := sourcetag.Write(sourceRoot, appVersion); err != nil {
			a.warnf("could not tag source root: %v\n", err)
		}
	}

	dests, locks, err := a.resolveAndLockDestinations(ctx, destMounts, confirmReuse)
	if err != nil {
		return err
	}

	defer func() {
		for _, l := range locks {
			_ = l.Release()
		}
	}()

	sess := session.New(sourceRoot, destMounts)
	orch := orchestrator.New(sess, sourceRoot, dests, a.cfg)
	orch.Metrics = progress.NewMetrics(prometheus.DefaultRegisterer)

	actionLogs := a.openActionLogs(dests)
	defer func() {
		for _, al := range actionLogs {
			_ = al.Close()
		}
	}()

	var (
		recordsMu       sync.Mutex
		manifestRecords = make(map[string][]eventsink.ManifestRecord, len(dests))
	)

	orch.OnPhase = func(p orchestrator.Phase) {
		a.printf("phase: %s\n", p)
	}

	orch.OnResult = func(destMount string, r pipeline.Result) {
		if al, ok := actionLogs[destMount]; ok {
			if err := al.Append(sess.ID, destMount, r); err != nil {
				a.warnf("write action record for %s: %v\n", destMount, err)
			}
		}

		switch r.Outcome {
		case pipeline.OutcomeCopied, pipeline.OutcomeSkipped, pipeline.OutcomeVerified:
			recordsMu.Lock()
			manifestRecords[destMount] = append(manifestRecords[destMount], eventsink.ManifestRecord{
				FilePath:  r.Entry.RelativePath,
				Checksum:  r.Digest,
				FileSize:  r.Entry.SizeBytes,
				Action:    r.Outcome,
				Timestamp: time.Now(),
			})
			recordsMu.Unlock()
		case pipeline.OutcomeFailed, pipeline.OutcomeQuarantined:
			a.warnf("%s: %s %s (%s)\n", destMount, r.Outcome, r.Entry.RelativePath, r.Reason)
		}
	}

	signingKey := []byte(sess.ID)

	listener, err := net.Listen("tcp", a.cfg.ControlAPIAddr)
	if err != nil {
		return errors.Wrap(err, "start control API listener")
	}

	apiServer := controlapi.New(sess, orch, signingKey)
	httpServer := &http.Server{Handler: apiServer.Handler()}

	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warnf("control API server stopped: %v", err)
		}
	}()

	defer httpServer.Close() //nolint:errcheck

	token, err := controlapi.MintCancelToken(sess.ID, signingKey)
	if err != nil {
		return errors.Wrap(err, "mint cancel token")
	}

	a.printf("session %s (%s) listening on %s\n", sess.Nickname, sess.ID, listener.Addr())
	a.printf("cancel token: %s\n", token)

	status, runErr := orch.Run(ctx)

	a.printf("session %s finished: %s\n", sess.Nickname, status)

	if runErr != nil {
		a.errorf("%v\n", runErr)
	}

	if orch.Manifest() != nil {
		snapshotName := "manifest_" + time.Now().Format("20060102_150405") + "_" + sess.ID + ".csv"

		snapshotPathFor := func(mountPath string) string {
			dir := filepath.Join(mountPath, checksumsDirName)
			_ = os.MkdirAll(dir, 0o755)

			return filepath.Join(dir, snapshotName)
		}

		recordsMu.Lock()
		records := manifestRecords
		recordsMu.Unlock()

		if err := orchestrator.WriteManifestSnapshots(dests, records, snapshotPathFor); err != nil {
			a.warnf("write manifest snapshots: %v\n", err)
		}
	}

	return runErr
}

// resolveAndLockDestinations resolves every requested mount path to a
// concrete orchestrator.Destination and takes its advisory session lock.
// On any failure it releases whatever locks it already acquired before
// returning.
func (a *app) resolveAndLockDestinations(ctx context.Context, destMounts []string, confirmReuse bool) ([]orchestrator.Destination, []*destination.Lock, error) {
	prober := destination.NewFilesystemProber()

	dests := make([]orchestrator.Destination, 0, len(destMounts))
	locks := make([]*destination.Lock, 0, len(destMounts))

	release := func() {
		for _, l := range locks {
			_ = l.Release()
		}
	}

	for _, mount := range destMounts {
		if taggedAsSource, err := sourcetag.IsTaggedAsSource(mount); err == nil && taggedAsSource {
			if !confirmReuse {
				release()
				return nil, nil, errors.Errorf("%s is tagged as a source root; pass --confirm-reuse to back up into it anyway", mount)
			}

			if err := sourcetag.Remove(mount); err != nil {
				release()
				return nil, nil, errors.Wrapf(err, "remove source marker from %s", mount)
			}
		}

		d, err := resolveDestination(a.cfg, prober, mount)
		if err != nil {
			release()
			return nil, nil, errors.Wrapf(err, "resolve destination %s", mount)
		}

		lock, err := destination.AcquireLock(ctx, mount)
		if err != nil {
			release()
			return nil, nil, errors.Wrapf(err, "acquire lock on %s", mount)
		}

		locks = append(locks, lock)
		dests = append(dests, d)
	}

	return dests, locks, nil
}

// actionLogsDirName is the per-destination directory holding one dated CSV
// action log per day (§4.6, §6.1).
const actionLogsDirName = ".imageintact_logs"

func (a *app) openActionLogs(dests []orchestrator.Destination) map[string]*eventsink.ActionLog {
	logs := make(map[string]*eventsink.ActionLog, len(dests))

	for _, d := range dests {
		al, err := eventsink.OpenDailyActionLog(filepath.Join(d.MountPath, actionLogsDirName), time.Now())
		if err != nil {
			a.warnf("could not open action log for %s: %v\n", d.MountPath, err)
			continue
		}

		logs[d.MountPath] = al
	}

	return logs
}

// checksumsDirName is where a resolved manifest snapshot is written on
// every destination once the session reaches a terminal phase.
const checksumsDirName = ".imageintact_checksums"
