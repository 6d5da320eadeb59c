package manager

import (
	"context"
	"errors"
	"fmt"
	"log"

	"pyvm/internal/errkind"
	"pyvm/internal/logx"
	"pyvm/internal/version"
)

// Use makes id the active version. The search path is switched before the
// registry, so a failed switch never leaves the registry claiming it.
func (m *Manager) Use(ctx context.Context, id string) error {
	if _, err := version.Parse(id); err != nil {
		return err
	}
	logger, _ := logx.WithOperation(m.logger, "use")

	release, err := m.locker.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := m.recoverLocked(logger); err != nil {
		return err
	}
	return m.useLocked(logger, id)
}

func (m *Manager) useLocked(logger *log.Logger, id string) error {
	rec, ok, err := m.registry.Get(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", errkind.ErrNotInstalled, id)
	}
	if err := m.engine.Activate(id, rec.Path); err != nil {
		return err
	}
	if err := m.registry.SetActive(id); err != nil {
		return err
	}
	logger.Printf("now using %s", id)
	return nil
}

// Uninstall removes id. An active version is deactivated and cleared first;
// the registry entry goes before the files, so an interruption leaves at worst
// an orphaned directory.
func (m *Manager) Uninstall(ctx context.Context, id string) error {
	if _, err := version.Parse(id); err != nil {
		return err
	}
	logger, _ := logx.WithOperation(m.logger, "uninstall")

	release, err := m.locker.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := m.recoverLocked(logger); err != nil {
		return err
	}

	st, err := m.registry.Load()
	if err != nil {
		return err
	}
	if _, ok := st.Installed[id]; !ok {
		return fmt.Errorf("%w: %s", errkind.ErrNotInstalled, id)
	}

	if st.ActiveID() == id {
		if err := m.engine.Deactivate(); err != nil {
			return err
		}
		if err := m.registry.SetActive(""); err != nil {
			return err
		}
		logger.Printf("deactivated %s", id)
	}

	if err := m.registry.Remove(id); err != nil {
		if errors.Is(err, errkind.ErrNotFound) {
			return fmt.Errorf("%w: %s", errkind.ErrNotInstalled, id)
		}
		return err
	}

	if err := m.store.Remove(id); err != nil {
		if errors.Is(err, errkind.ErrNotInstalled) {
			logger.Printf("%s had no directory on disk", id)
			return nil
		}
		return err
	}
	logger.Printf("uninstalled %s", id)
	return nil
}
