package main

import (
	"github.com/pkg/errors"

	"github.com/kopia/imageintact/config"
	"github.com/kopia/imageintact/destination"
	"github.com/kopia/imageintact/orchestrator"
)

// resolveDestination builds a destination.Backend and determines its medium
// class for one mount path, consulting config.DestinationBackends for
// network backends and falling back to local-filesystem probing otherwise.
func resolveDestination(cfg config.Config, prober destination.Prober, mountPath string) (orchestrator.Destination, error) {
	backendCfg, configured := cfg.DestinationBackends[mountPath]
	if !configured {
		backendCfg.Kind = config.BackendLocal
	}

	switch backendCfg.Kind {
	case config.BackendWebDAV:
		password, err := destination.LoadCredential(backendCfg.CredentialKey)
		if err != nil {
			return orchestrator.Destination{}, errors.Wrapf(err, "load credential for %s", mountPath)
		}

		return orchestrator.Destination{
			MountPath: mountPath,
			Medium:    destination.MediumNetwork,
			Backend:   destination.NewWebDAVBackend(backendCfg.Endpoint, backendCfg.CredentialKey, password),
		}, nil

	case config.BackendSFTP:
		password, err := destination.LoadCredential(backendCfg.CredentialKey)
		if err != nil {
			return orchestrator.Destination{}, errors.Wrapf(err, "load credential for %s", mountPath)
		}

		backend, err := destination.DialSFTPBackend(backendCfg.Endpoint, backendCfg.CredentialKey, password)
		if err != nil {
			return orchestrator.Destination{}, err
		}

		return orchestrator.Destination{
			MountPath: mountPath,
			Medium:    destination.MediumNetwork,
			Backend:   backend,
		}, nil

	default:
		probed, err := prober.ProbeDestination(mountPath)
		if err != nil {
			return orchestrator.Destination{}, errors.Wrapf(err, "probe %s", mountPath)
		}

		threshold, err := cfg.FreeSpaceThresholdBytes()
		if err != nil {
			return orchestrator.Destination{}, errors.Wrap(err, "parse free-space threshold")
		}

		if probed.FreeBytes < threshold {
			return orchestrator.Destination{}, errors.Errorf("%s has %d bytes free, below the free-space threshold of %d bytes", mountPath, probed.FreeBytes, threshold)
		}

		return orchestrator.Destination{
			MountPath: mountPath,
			Medium:    probed.MediumClass,
			Backend:   destination.NewLocalBackend(mountPath),
		}, nil
	}
}
