package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"pyvm/internal/errkind"
	"pyvm/internal/extract"
	"pyvm/internal/logx"
	"pyvm/internal/registry"
	"pyvm/internal/store"
	"pyvm/internal/version"
)

// Stage names a step of an install.
type Stage string

const (
	StageFetching    Stage = "fetching"
	StageRetrying    Stage = "retrying"
	StageVerifying   Stage = "verifying"
	StageExtracting  Stage = "extracting"
	StageCommitting  Stage = "committing"
	StageRegistering Stage = "registering"
	StageActivating  Stage = "activating"
	StageInstalled   Stage = "installed"
)

// Reporter receives install progress. Calls happen on the installing
// goroutine.
type Reporter interface {
	Stage(id string, stage Stage, detail string)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(id string, stage Stage, detail string)

func (f ReporterFunc) Stage(id string, stage Stage, detail string) { f(id, stage, detail) }

type nopReporter struct{}

func (nopReporter) Stage(string, Stage, string) {}

// InstallOptions tunes a single install.
type InstallOptions struct {
	// Activate switches to the version once it is registered.
	Activate bool
	Reporter Reporter
}

// Install downloads, verifies and commits id, then records it in the registry.
// The registry is only written after the files are durably in place, so an
// interruption leaves at worst an orphaned directory that doctor reports.
func (m *Manager) Install(ctx context.Context, id string, opts InstallOptions) (registry.Record, error) {
	if _, err := version.Parse(id); err != nil {
		return registry.Record{}, err
	}
	report := opts.Reporter
	if report == nil {
		report = nopReporter{}
	}
	logger, _ := logx.WithOperation(m.logger, "install")

	release, err := m.locker.Acquire(ctx)
	if err != nil {
		return registry.Record{}, err
	}
	defer release()

	if err := m.recoverLocked(logger); err != nil {
		return registry.Record{}, err
	}

	if _, ok, err := m.registry.Get(id); err != nil {
		return registry.Record{}, err
	} else if ok {
		return registry.Record{}, fmt.Errorf("%w: %s", errkind.ErrAlreadyInstalled, id)
	}

	rec, err := m.installLocked(ctx, logger, id, report)
	if err != nil {
		logger.Printf("install %s failed: %v", id, err)
		return registry.Record{}, err
	}

	if opts.Activate {
		report.Stage(id, StageActivating, rec.Path)
		if err := m.useLocked(logger, id); err != nil {
			return rec, err
		}
	}
	report.Stage(id, StageInstalled, rec.Path)
	logger.Printf("installed %s at %s (%s)", id, rec.Path, rec.Checksum)
	return rec, nil
}

func (m *Manager) installLocked(ctx context.Context, logger *log.Logger, id string, report Reporter) (registry.Record, error) {
	st, err := m.store.Begin(id)
	if err != nil {
		return registry.Record{}, err
	}
	defer m.store.Abort(st)

	archive, digest, err := m.download(ctx, logger, id, st, report)
	if err != nil {
		return registry.Record{}, err
	}

	report.Stage(id, StageExtracting, st.TreeDir)
	if err := m.unpack(ctx, archive, st.TreeDir); err != nil {
		return registry.Record{}, err
	}

	report.Stage(id, StageCommitting, m.store.Path(id))
	final, err := m.store.Commit(st)
	if err != nil {
		if errors.Is(err, errkind.ErrAlreadyInstalled) {
			logger.Printf("%s already on disk at %s but not registered; run doctor", id, final)
		}
		return registry.Record{}, err
	}

	report.Stage(id, StageRegistering, m.registry.Path())
	rec := registry.Record{
		ID:          id,
		Path:        final,
		InstalledAt: time.Now().UTC().Format(time.RFC3339),
		Checksum:    digest,
	}
	if err := m.registry.Add(rec); err != nil {
		return registry.Record{}, err
	}
	return rec, nil
}

// download fetches the artifact into staging and verifies it. Only
// ErrDownloadFailed is retried; every attempt starts a fresh transfer.
func (m *Manager) download(ctx context.Context, logger *log.Logger, id string, st *store.Staging, report Reporter) (string, string, error) {
	attempts := m.retry.attempts()
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := m.retry.delay(attempt - 1)
			report.Stage(id, StageRetrying, fmt.Sprintf("attempt %d/%d in %s", attempt+1, attempts, delay))
			logger.Printf("download attempt %d/%d for %s failed: %v; retrying in %s", attempt, attempts, id, lastErr, delay)
			if err := sleepContext(ctx, delay); err != nil {
				return "", "", err
			}
		}

		report.Stage(id, StageFetching, "")
		archive, digest, err := m.downloadOnce(ctx, id, st, report)
		if err == nil {
			return archive, digest, nil
		}
		if !errors.Is(err, errkind.ErrDownloadFailed) {
			return "", "", err
		}
		lastErr = err
	}
	return "", "", fmt.Errorf("download %s after %d attempts: %w", id, attempts, lastErr)
}

func (m *Manager) downloadOnce(ctx context.Context, id string, st *store.Staging, report Reporter) (string, string, error) {
	art, err := m.fetcher.Fetch(ctx, id)
	if err != nil {
		return "", "", err
	}
	defer art.Body.Close()

	hasher, err := m.verifier.NewWriter(art.Digest)
	if err != nil {
		return "", "", err
	}

	archive := st.ArchivePath(art.Name)
	file, err := os.OpenFile(archive, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", "", errkind.Classify("create "+archive, err)
	}
	if _, err := io.Copy(io.MultiWriter(file, hasher), art.Body); err != nil {
		file.Close()
		return "", "", errkind.Classify("download "+art.URL, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return "", "", errkind.Classify("sync "+archive, err)
	}
	if err := file.Close(); err != nil {
		return "", "", errkind.Classify("close "+archive, err)
	}
	if art.Size > 0 && hasher.Written() != art.Size {
		return "", "", fmt.Errorf("%w: %s: received %d of %d bytes", errkind.ErrDownloadFailed, art.URL, hasher.Written(), art.Size)
	}

	report.Stage(id, StageVerifying, art.Name)
	digest, err := hasher.Check()
	if err != nil {
		return "", "", err
	}
	return archive, digest, nil
}

func (m *Manager) unpack(ctx context.Context, archive, dest string) error {
	ex, err := extract.ForName(archive, m.settings.Download.StripComponents)
	if err != nil {
		return err
	}
	file, err := os.Open(archive)
	if err != nil {
		return errkind.Classify("open "+archive, err)
	}
	defer file.Close()
	return ex.Extract(ctx, file, dest)
}
