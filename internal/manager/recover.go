package manager

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"pyvm/internal/errkind"
	"pyvm/internal/logx"
	"pyvm/internal/paths"
)

// Recover converges the search path onto the registry. Mutating operations
// run it implicitly after taking the lock.
func (m *Manager) Recover(ctx context.Context) error {
	logger, _ := logx.WithOperation(m.logger, "recover")
	release, err := m.locker.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return m.recoverLocked(logger)
}

// recoverLocked treats the registry as truth. An active version whose files
// are gone cannot be reactivated; it is left for doctor and uninstall.
func (m *Manager) recoverLocked(logger *log.Logger) error {
	st, err := m.registry.Load()
	if err != nil {
		return err
	}
	managed, err := m.engine.ManagedEntries()
	if err != nil {
		return err
	}
	if m.converged(st, managed) {
		return nil
	}

	active := st.ActiveID()
	if active == "" {
		logger.Printf("recover: nothing active, removing %s", strings.Join(managed, ", "))
		return m.engine.Deactivate()
	}

	rec := st.Installed[active]
	logger.Printf("recover: path has %v, registry has %s; reactivating", managed, active)
	if err := m.engine.Activate(active, rec.Path); err != nil {
		if errors.Is(err, errkind.ErrNotFound) {
			logger.Printf("recover: cannot reactivate %s: %v", active, err)
			return nil
		}
		return err
	}
	return nil
}

// Issue kinds reported by Doctor.
const (
	IssueDrift          = "drift"
	IssueMultiple       = "multiple-entries"
	IssueOrphan         = "orphan"
	IssueMissingInstall = "missing-install"
	IssueLeftover       = "leftover"
	IssueSettings       = "settings"
)

// Issue is a single doctor finding.
type Issue struct {
	Kind    string `json:"kind"`
	Subject string `json:"subject"`
	Detail  string `json:"detail"`
}

// Report is the doctor's read-only view of the installation.
type Report struct {
	Root        string   `json:"root"`
	Active      string   `json:"active,omitempty"`
	PathEntries []string `json:"path_entries"`
	Installed   []string `json:"installed"`
	Issues      []Issue  `json:"issues"`
}

// Healthy reports whether doctor found nothing to fix.
func (r Report) Healthy() bool {
	return len(r.Issues) == 0
}

// Doctor inspects the registry, the search path and the versions directory
// without changing anything.
func (m *Manager) Doctor() (Report, error) {
	st, err := m.registry.Load()
	if err != nil {
		return Report{}, err
	}
	managed, err := m.engine.ManagedEntries()
	if err != nil {
		return Report{}, err
	}
	onDisk, err := m.store.Installed()
	if err != nil {
		return Report{}, err
	}
	leftovers, err := m.store.Leftovers()
	if err != nil {
		return Report{}, err
	}

	report := Report{
		Root:        m.layout.Root,
		Active:      st.ActiveID(),
		PathEntries: managed,
		Installed:   make([]string, 0, len(st.Installed)),
	}
	for _, rec := range st.Records() {
		report.Installed = append(report.Installed, rec.ID)
	}

	if !m.converged(st, managed) {
		want := "nothing"
		if report.Active != "" {
			want = m.engine.ExecDir(st.Installed[report.Active].Path)
		}
		have := "nothing"
		if len(managed) > 0 {
			have = managed[0]
		}
		report.add(IssueDrift, report.Active, fmt.Sprintf("registry expects %s on the search path, found %s", want, have))
	}
	if len(managed) > 1 {
		report.add(IssueMultiple, strings.Join(managed, ", "), fmt.Sprintf("%d managed entries on the search path", len(managed)))
	}
	for _, id := range onDisk {
		if _, ok := st.Installed[id]; !ok {
			report.add(IssueOrphan, id, "directory exists but is not registered; prune removes it")
		}
	}
	for _, rec := range st.Records() {
		exists, err := paths.DirExists(rec.Path)
		if err != nil {
			return Report{}, errkind.Classify("stat "+rec.Path, err)
		}
		if !exists {
			report.add(IssueMissingInstall, rec.ID, fmt.Sprintf("registered at %s but the directory is missing", rec.Path))
		}
	}
	for _, path := range leftovers {
		report.add(IssueLeftover, path, "left behind by an interrupted operation; prune removes it")
	}
	for _, finding := range m.settings.Validate() {
		report.add(IssueSettings, m.layout.SettingsFile, finding.Level+": "+finding.Message)
	}
	return report, nil
}

func (r *Report) add(kind, subject, detail string) {
	r.Issues = append(r.Issues, Issue{Kind: kind, Subject: subject, Detail: detail})
}

// PruneResult lists what Prune deleted.
type PruneResult struct {
	Removed []string `json:"removed"`
}

// Prune deletes staging leftovers and unregistered version directories.
// Registered versions are never touched.
func (m *Manager) Prune(ctx context.Context) (PruneResult, error) {
	logger, _ := logx.WithOperation(m.logger, "prune")
	release, err := m.locker.Acquire(ctx)
	if err != nil {
		return PruneResult{}, err
	}
	defer release()

	if err := m.recoverLocked(logger); err != nil {
		return PruneResult{}, err
	}

	st, err := m.registry.Load()
	if err != nil {
		return PruneResult{}, err
	}
	targets, err := m.store.Leftovers()
	if err != nil {
		return PruneResult{}, err
	}
	onDisk, err := m.store.Installed()
	if err != nil {
		return PruneResult{}, err
	}
	for _, id := range onDisk {
		if _, ok := st.Installed[id]; !ok {
			targets = append(targets, m.store.Path(id))
		}
	}
	sort.Strings(targets)

	if err := m.store.Sweep(targets); err != nil {
		return PruneResult{}, err
	}
	logger.Printf("pruned %d paths", len(targets))
	return PruneResult{Removed: targets}, nil
}
