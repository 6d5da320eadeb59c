package manager

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pyvm/internal/activation"
	"pyvm/internal/config"
	"pyvm/internal/errkind"
	"pyvm/internal/fetch"
	"pyvm/internal/lock"
	"pyvm/internal/paths"
)

var basePath = strings.Join([]string{"/usr/local/bin", "/usr/bin"}, string(os.PathListSeparator))

type fakeFetcher struct {
	mu        sync.Mutex
	artifacts map[string][]byte
	digests   map[string]string
	failures  map[string][]error
	calls     map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		artifacts: map[string][]byte{},
		digests:   map[string]string{},
		failures:  map[string][]error{},
		calls:     map[string]int{},
	}
}

func (f *fakeFetcher) publish(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		f.set(id, runtimeZip(t, id))
	}
}

func (f *fakeFetcher) set(id string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.artifacts[id] = data
}

func (f *fakeFetcher) failNext(id string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[id] = append(f.failures[id], errs...)
}

func (f *fakeFetcher) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *fakeFetcher) Fetch(_ context.Context, id string) (*fetch.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id]++
	if pending := f.failures[id]; len(pending) > 0 {
		f.failures[id] = pending[1:]
		return nil, pending[0]
	}
	data, ok := f.artifacts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errkind.ErrVersionNotFound, id)
	}
	digest, ok := f.digests[id]
	if !ok {
		sum := sha256.Sum256(data)
		digest = "sha256:" + hex.EncodeToString(sum[:])
	}
	return &fetch.Artifact{
		Name:   "python-" + id + ".zip",
		URL:    "https://downloads.test/" + id,
		Body:   io.NopCloser(bytes.NewReader(data)),
		Digest: digest,
		Size:   int64(len(data)),
	}, nil
}

func runtimeZip(t *testing.T, id string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	files := map[string]string{
		"bin/python":  "#!/bin/sh\necho Python " + id + "\n",
		"lib/VERSION": id,
	}
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func testSettings() config.Config {
	settings := config.Default()
	bin := "bin"
	settings.Activation.BinSubdir = &bin
	settings.Download.Retries.InitialDelay = time.Millisecond
	settings.Download.Retries.MaxDelay = 5 * time.Millisecond
	settings.ApplyDefaults()
	return settings
}

func newTestManager(t *testing.T, root string, f fetch.Fetcher, ps activation.PathStore) *Manager {
	t.Helper()
	return newTestManagerWith(t, root, f, ps, testSettings())
}

func newTestManagerWith(t *testing.T, root string, f fetch.Fetcher, ps activation.PathStore, settings config.Config) *Manager {
	t.Helper()
	m, err := New(Options{Layout: paths.New(root), Settings: settings, Fetcher: f, PathStore: ps})
	require.NoError(t, err)
	return m
}

func listedIDs(t *testing.T, m *Manager) []string {
	t.Helper()
	listing, err := m.List()
	require.NoError(t, err)
	ids := []string{}
	for _, rec := range listing.Versions {
		ids = append(ids, rec.ID)
	}
	return ids
}

// assertConsistent checks that the active pointer is null or installed and
// that the search path agrees with it.
func assertConsistent(t *testing.T, m *Manager) {
	t.Helper()
	listing, err := m.List()
	require.NoError(t, err)
	if listing.Active != "" {
		assert.Contains(t, listedIDs(t, m), listing.Active)
	}
	current, err := m.Current()
	require.NoError(t, err)
	assert.True(t, current.Consistent, "registry %q vs path entry %q", current.Active, current.PathEntry)
}

func binDir(root, id string) string {
	return filepath.Join(root, "versions", id, "bin")
}

func TestInstallUseUninstallScenario(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	fetcher := newFakeFetcher()
	fetcher.publish(t, "3.9.0")
	ps := activation.NewMemoryPathStore(basePath)
	m := newTestManager(t, root, fetcher, ps)

	rec, err := m.Install(ctx, "3.9.0", InstallOptions{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "versions", "3.9.0"), rec.Path)
	assert.True(t, strings.HasPrefix(rec.Checksum, "sha256:"))
	assert.Equal(t, []string{"3.9.0"}, listedIDs(t, m))
	assertConsistent(t, m)

	require.NoError(t, m.Use(ctx, "3.9.0"))
	current, err := m.Current()
	require.NoError(t, err)
	assert.Equal(t, "3.9.0", current.Active)
	assert.Equal(t, binDir(root, "3.9.0"), current.PathEntry)
	assertConsistent(t, m)

	before, err := ps.Read()
	require.NoError(t, err)
	err = m.Use(ctx, "3.8.0")
	require.ErrorIs(t, err, errkind.ErrNotInstalled)
	after, err := ps.Read()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assertConsistent(t, m)

	require.NoError(t, m.Uninstall(ctx, "3.9.0"))
	assert.Empty(t, listedIDs(t, m))
	current, err = m.Current()
	require.NoError(t, err)
	assert.Empty(t, current.Active)
	assert.Empty(t, current.PathEntry)
	value, err := ps.Read()
	require.NoError(t, err)
	assert.Equal(t, basePath, value)
	assert.NoDirExists(t, filepath.Join(root, "versions", "3.9.0"))
}

func TestUseTwiceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	fetcher := newFakeFetcher()
	fetcher.publish(t, "3.11.4")
	ps := activation.NewMemoryPathStore(basePath)
	m := newTestManager(t, root, fetcher, ps)

	_, err := m.Install(ctx, "3.11.4", InstallOptions{})
	require.NoError(t, err)
	require.NoError(t, m.Use(ctx, "3.11.4"))
	first, err := ps.Read()
	require.NoError(t, err)
	writes := ps.Writes()

	require.NoError(t, m.Use(ctx, "3.11.4"))
	second, err := ps.Read()
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, writes, ps.Writes())
}

func TestSwitchingVersionsKeepsOneManagedEntry(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	fetcher := newFakeFetcher()
	fetcher.publish(t, "3.9.0", "3.10.0")
	ps := activation.NewMemoryPathStore(basePath)
	m := newTestManager(t, root, fetcher, ps)

	_, err := m.Install(ctx, "3.9.0", InstallOptions{Activate: true})
	require.NoError(t, err)
	_, err = m.Install(ctx, "3.10.0", InstallOptions{})
	require.NoError(t, err)
	require.NoError(t, m.Use(ctx, "3.10.0"))

	value, err := ps.Read()
	require.NoError(t, err)
	assert.Equal(t, binDir(root, "3.10.0")+string(os.PathListSeparator)+basePath, value)
	assert.Equal(t, []string{"3.10.0", "3.9.0"}, listedIDs(t, m))
	assertConsistent(t, m)
}

func TestInstallReportsStages(t *testing.T) {
	root := t.TempDir()
	fetcher := newFakeFetcher()
	fetcher.publish(t, "3.12.1")
	m := newTestManager(t, root, fetcher, activation.NewMemoryPathStore(basePath))

	var stages []Stage
	reporter := ReporterFunc(func(id string, stage Stage, _ string) {
		assert.Equal(t, "3.12.1", id)
		stages = append(stages, stage)
	})
	_, err := m.Install(context.Background(), "3.12.1", InstallOptions{Activate: true, Reporter: reporter})
	require.NoError(t, err)
	assert.Equal(t, []Stage{
		StageFetching, StageVerifying, StageExtracting, StageCommitting,
		StageRegistering, StageActivating, StageInstalled,
	}, stages)
}

func TestInstallRejectsInvalidIdentifier(t *testing.T) {
	m := newTestManager(t, t.TempDir(), newFakeFetcher(), activation.NewMemoryPathStore(basePath))

	_, err := m.Install(context.Background(), "v3.9", InstallOptions{})
	require.ErrorIs(t, err, errkind.ErrInvalidVersion)
}

func TestInstallTwiceIsAlreadyInstalled(t *testing.T) {
	ctx := context.Background()
	fetcher := newFakeFetcher()
	fetcher.publish(t, "3.9.0")
	m := newTestManager(t, t.TempDir(), fetcher, activation.NewMemoryPathStore(basePath))

	_, err := m.Install(ctx, "3.9.0", InstallOptions{})
	require.NoError(t, err)
	_, err = m.Install(ctx, "3.9.0", InstallOptions{})
	require.ErrorIs(t, err, errkind.ErrAlreadyInstalled)
	assert.Equal(t, 1, fetcher.callCount("3.9.0"))
}

func TestInterruptedStagingThenRetryLeavesOneCopy(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	fetcher := newFakeFetcher()
	fetcher.publish(t, "3.9.0")
	m := newTestManager(t, root, fetcher, activation.NewMemoryPathStore(basePath))

	// A crashed install leaves its staging area behind.
	st, err := m.store.Begin("3.9.0")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(st.TreeDir, "partial"), []byte("half"), 0o644))

	_, err = m.Install(ctx, "3.9.0", InstallOptions{})
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(root, "versions"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "3.9.0", entries[0].Name())
	assert.NoFileExists(t, filepath.Join(root, "versions", "3.9.0", "partial"))

	staging, err := os.ReadDir(filepath.Join(root, "staging"))
	require.NoError(t, err)
	assert.Empty(t, staging)
	assert.Equal(t, []string{"3.9.0"}, listedIDs(t, m))
}

func TestFailedExtractionAbortsThenRetrySucceeds(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	fetcher := newFakeFetcher()
	fetcher.set("3.9.0", []byte("this is not a zip archive"))
	m := newTestManager(t, root, fetcher, activation.NewMemoryPathStore(basePath))

	_, err := m.Install(ctx, "3.9.0", InstallOptions{})
	require.ErrorIs(t, err, errkind.ErrCorruptArchive)
	assert.NoDirExists(t, filepath.Join(root, "versions", "3.9.0"))
	staging, err := os.ReadDir(filepath.Join(root, "staging"))
	require.NoError(t, err)
	assert.Empty(t, staging)
	assert.Empty(t, listedIDs(t, m))

	fetcher.publish(t, "3.9.0")
	_, err = m.Install(ctx, "3.9.0", InstallOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"3.9.0"}, listedIDs(t, m))
	assert.FileExists(t, filepath.Join(root, "versions", "3.9.0", "bin", "python"))
}

func TestInstallRetriesDownloadFailures(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.publish(t, "3.9.0")
	fetcher.failNext("3.9.0",
		fmt.Errorf("%w: connection reset", errkind.ErrDownloadFailed),
		fmt.Errorf("%w: 503", errkind.ErrDownloadFailed),
	)
	m := newTestManager(t, t.TempDir(), fetcher, activation.NewMemoryPathStore(basePath))

	var retries int
	reporter := ReporterFunc(func(_ string, stage Stage, _ string) {
		if stage == StageRetrying {
			retries++
		}
	})
	_, err := m.Install(context.Background(), "3.9.0", InstallOptions{Reporter: reporter})
	require.NoError(t, err)
	assert.Equal(t, 3, fetcher.callCount("3.9.0"))
	assert.Equal(t, 2, retries)
}

func TestInstallGivesUpAfterConfiguredAttempts(t *testing.T) {
	root := t.TempDir()
	fetcher := newFakeFetcher()
	fetcher.publish(t, "3.9.0")
	for i := 0; i < 3; i++ {
		fetcher.failNext("3.9.0", fmt.Errorf("%w: timeout", errkind.ErrDownloadFailed))
	}
	m := newTestManager(t, root, fetcher, activation.NewMemoryPathStore(basePath))

	_, err := m.Install(context.Background(), "3.9.0", InstallOptions{})
	require.ErrorIs(t, err, errkind.ErrDownloadFailed)
	assert.Equal(t, 3, fetcher.callCount("3.9.0"))
	assert.Empty(t, listedIDs(t, m))
	assert.NoDirExists(t, filepath.Join(root, "versions", "3.9.0"))
}

func TestInstallDoesNotRetryMissingRelease(t *testing.T) {
	fetcher := newFakeFetcher()
	m := newTestManager(t, t.TempDir(), fetcher, activation.NewMemoryPathStore(basePath))

	_, err := m.Install(context.Background(), "9.9.9", InstallOptions{})
	require.ErrorIs(t, err, errkind.ErrVersionNotFound)
	assert.Equal(t, 1, fetcher.callCount("9.9.9"))
}

func TestInstallIntegrityMismatchIsNotRetried(t *testing.T) {
	root := t.TempDir()
	fetcher := newFakeFetcher()
	fetcher.publish(t, "3.9.0")
	fetcher.digests["3.9.0"] = "sha256:" + strings.Repeat("0", 64)
	m := newTestManager(t, root, fetcher, activation.NewMemoryPathStore(basePath))

	_, err := m.Install(context.Background(), "3.9.0", InstallOptions{})
	require.ErrorIs(t, err, errkind.ErrIntegrityMismatch)
	assert.Equal(t, 1, fetcher.callCount("3.9.0"))
	assert.NoDirExists(t, filepath.Join(root, "versions", "3.9.0"))
	assert.Empty(t, listedIDs(t, m))
}

func TestInstallRequiresDigestWhenConfigured(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.publish(t, "3.9.0")
	fetcher.digests["3.9.0"] = ""
	settings := testSettings()
	required := true
	settings.Verify.RequireDigest = &required
	m := newTestManagerWith(t, t.TempDir(), fetcher, activation.NewMemoryPathStore(basePath), settings)

	_, err := m.Install(context.Background(), "3.9.0", InstallOptions{})
	require.ErrorIs(t, err, errkind.ErrIntegrityMismatch)
}

func TestUninstallActiveClearsPathAndRegistry(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	fetcher := newFakeFetcher()
	fetcher.publish(t, "3.9.0", "3.10.0")
	ps := activation.NewMemoryPathStore(basePath)
	m := newTestManager(t, root, fetcher, ps)

	_, err := m.Install(ctx, "3.9.0", InstallOptions{})
	require.NoError(t, err)
	_, err = m.Install(ctx, "3.10.0", InstallOptions{Activate: true})
	require.NoError(t, err)

	require.NoError(t, m.Uninstall(ctx, "3.10.0"))

	active, err := m.engine.CurrentlyActivePath()
	require.NoError(t, err)
	assert.Empty(t, active)
	listing, err := m.List()
	require.NoError(t, err)
	assert.Empty(t, listing.Active)
	assert.Equal(t, []string{"3.9.0"}, listedIDs(t, m))
	assertConsistent(t, m)
}

func TestUninstallUnknownVersion(t *testing.T) {
	m := newTestManager(t, t.TempDir(), newFakeFetcher(), activation.NewMemoryPathStore(basePath))

	err := m.Uninstall(context.Background(), "3.9.0")
	require.ErrorIs(t, err, errkind.ErrNotInstalled)
}

func TestUninstallToleratesMissingFiles(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	fetcher := newFakeFetcher()
	fetcher.publish(t, "3.9.0")
	m := newTestManager(t, root, fetcher, activation.NewMemoryPathStore(basePath))

	_, err := m.Install(ctx, "3.9.0", InstallOptions{Activate: true})
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(filepath.Join(root, "versions", "3.9.0")))

	report, err := m.Doctor()
	require.NoError(t, err)
	assert.True(t, hasIssue(report, IssueMissingInstall, "3.9.0"))

	require.NoError(t, m.Uninstall(ctx, "3.9.0"))
	assert.Empty(t, listedIDs(t, m))
	assertConsistent(t, m)
}

func TestPermissionDeniedLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	fetcher := newFakeFetcher()
	fetcher.publish(t, "3.9.0", "3.10.0")
	ps := activation.NewMemoryPathStore(basePath)
	m := newTestManager(t, root, fetcher, ps)

	_, err := m.Install(ctx, "3.9.0", InstallOptions{Activate: true})
	require.NoError(t, err)
	_, err = m.Install(ctx, "3.10.0", InstallOptions{})
	require.NoError(t, err)
	before, err := ps.Read()
	require.NoError(t, err)

	ps.WriteErr = fs.ErrPermission
	err = m.Use(ctx, "3.10.0")
	require.ErrorIs(t, err, errkind.ErrPermissionDenied)

	after, err := ps.Read()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	listing, err := m.List()
	require.NoError(t, err)
	assert.Equal(t, "3.9.0", listing.Active)
	assertConsistent(t, m)
}

func TestRecoverPrefersRegistry(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	fetcher := newFakeFetcher()
	fetcher.publish(t, "3.9.0", "3.10.0")
	ps := activation.NewMemoryPathStore(basePath)
	m := newTestManager(t, root, fetcher, ps)

	_, err := m.Install(ctx, "3.9.0", InstallOptions{Activate: true})
	require.NoError(t, err)
	_, err = m.Install(ctx, "3.10.0", InstallOptions{})
	require.NoError(t, err)

	// Crash between switching the path and recording the new active version.
	ps.Set(binDir(root, "3.10.0") + string(os.PathListSeparator) + basePath)

	current, err := m.Current()
	require.NoError(t, err)
	assert.False(t, current.Consistent)
	report, err := m.Doctor()
	require.NoError(t, err)
	assert.True(t, hasIssue(report, IssueDrift, "3.9.0"))

	require.NoError(t, m.Recover(ctx))
	current, err = m.Current()
	require.NoError(t, err)
	assert.True(t, current.Consistent)
	assert.Equal(t, binDir(root, "3.9.0"), current.PathEntry)
}

func TestRecoverRemovesEntriesWhenNothingActive(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	fetcher := newFakeFetcher()
	fetcher.publish(t, "3.9.0")
	ps := activation.NewMemoryPathStore(basePath)
	m := newTestManager(t, root, fetcher, ps)

	_, err := m.Install(ctx, "3.9.0", InstallOptions{})
	require.NoError(t, err)
	ps.Set(binDir(root, "3.9.0") + string(os.PathListSeparator) + basePath)

	require.NoError(t, m.Recover(ctx))
	value, err := ps.Read()
	require.NoError(t, err)
	assert.Equal(t, basePath, value)
}

func TestMutatingCommandsRecoverFirst(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	fetcher := newFakeFetcher()
	fetcher.publish(t, "3.9.0", "3.10.0", "3.11.0")
	ps := activation.NewMemoryPathStore(basePath)
	m := newTestManager(t, root, fetcher, ps)

	_, err := m.Install(ctx, "3.9.0", InstallOptions{Activate: true})
	require.NoError(t, err)
	_, err = m.Install(ctx, "3.10.0", InstallOptions{})
	require.NoError(t, err)
	sep := string(os.PathListSeparator)
	ps.Set(binDir(root, "3.10.0") + sep + basePath + sep + binDir(root, "3.9.0"))

	_, err = m.Install(ctx, "3.11.0", InstallOptions{})
	require.NoError(t, err)
	assertConsistent(t, m)
	entries, err := m.engine.ManagedEntries()
	require.NoError(t, err)
	assert.Equal(t, []string{binDir(root, "3.9.0")}, entries)
}

func TestCommittedButUnregisteredIsOrphaned(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	fetcher := newFakeFetcher()
	fetcher.publish(t, "3.9.0")
	m := newTestManager(t, root, fetcher, activation.NewMemoryPathStore(basePath))

	// Crash between committing the files and registering them.
	st, err := m.store.Begin("3.9.0")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(st.TreeDir, "bin"), 0o755))
	_, err = m.store.Commit(st)
	require.NoError(t, err)

	_, err = m.Install(ctx, "3.9.0", InstallOptions{})
	require.ErrorIs(t, err, errkind.ErrAlreadyInstalled)
	assert.Empty(t, listedIDs(t, m))

	report, err := m.Doctor()
	require.NoError(t, err)
	assert.False(t, report.Healthy())
	assert.True(t, hasIssue(report, IssueOrphan, "3.9.0"))

	pruned, err := m.Prune(ctx)
	require.NoError(t, err)
	assert.Contains(t, pruned.Removed, filepath.Join(root, "versions", "3.9.0"))

	_, err = m.Install(ctx, "3.9.0", InstallOptions{})
	require.NoError(t, err)
	report, err = m.Doctor()
	require.NoError(t, err)
	assert.True(t, report.Healthy(), "%+v", report.Issues)
}

func TestPruneKeepsRegisteredVersions(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	fetcher := newFakeFetcher()
	fetcher.publish(t, "3.9.0")
	m := newTestManager(t, root, fetcher, activation.NewMemoryPathStore(basePath))

	_, err := m.Install(ctx, "3.9.0", InstallOptions{})
	require.NoError(t, err)
	st, err := m.store.Begin("3.12.0")
	require.NoError(t, err)

	report, err := m.Doctor()
	require.NoError(t, err)
	assert.True(t, hasIssue(report, IssueLeftover, st.Dir))

	pruned, err := m.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{st.Dir}, pruned.Removed)
	assert.DirExists(t, filepath.Join(root, "versions", "3.9.0"))
	assert.NoDirExists(t, st.Dir)
}

func TestCorruptRegistryIsSurfaced(t *testing.T) {
	root := t.TempDir()
	fetcher := newFakeFetcher()
	fetcher.publish(t, "3.9.0")
	m := newTestManager(t, root, fetcher, activation.NewMemoryPathStore(basePath))

	file := filepath.Join(root, "config.json")
	garbage := []byte(`{"installed": {"3.9.0": `)
	require.NoError(t, os.WriteFile(file, garbage, 0o644))

	_, err := m.Install(context.Background(), "3.9.0", InstallOptions{})
	require.ErrorIs(t, err, errkind.ErrRegistryCorrupt)
	_, err = m.List()
	require.ErrorIs(t, err, errkind.ErrRegistryCorrupt)
	_, err = m.Doctor()
	require.ErrorIs(t, err, errkind.ErrRegistryCorrupt)

	contents, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, garbage, contents)
	assert.Equal(t, 0, fetcher.callCount("3.9.0"))
}

func TestConcurrentInstallsAreSerialized(t *testing.T) {
	root := t.TempDir()
	fetcher := newFakeFetcher()
	fetcher.publish(t, "3.9.0", "3.10.0")
	ps := activation.NewMemoryPathStore(basePath)
	first := newTestManager(t, root, fetcher, ps)
	second := newTestManager(t, root, fetcher, ps)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, job := range []struct {
		m  *Manager
		id string
	}{{first, "3.9.0"}, {second, "3.10.0"}} {
		wg.Add(1)
		go func(i int, m *Manager, id string) {
			defer wg.Done()
			_, errs[i] = m.Install(context.Background(), id, InstallOptions{})
		}(i, job.m, job.id)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, []string{"3.10.0", "3.9.0"}, listedIDs(t, first))
}

func TestLockContentionFailsFast(t *testing.T) {
	root := t.TempDir()
	settings := testSettings()
	settings.Lock.FailFast = true
	m := newTestManagerWith(t, root, newFakeFetcher(), activation.NewMemoryPathStore(basePath), settings)

	release, err := lock.New(m.Layout().LockFile, lock.Options{FailFast: true}).Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	_, err = m.Install(context.Background(), "3.9.0", InstallOptions{})
	require.ErrorIs(t, err, errkind.ErrLockContention)
	err = m.Use(context.Background(), "3.9.0")
	require.ErrorIs(t, err, errkind.ErrLockContention)

	_, err = m.List()
	require.NoError(t, err)
}

func TestActiveAlwaysInstalledAcrossSequences(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	fetcher := newFakeFetcher()
	ids := []string{"3.8.0", "3.9.0", "3.10.0"}
	fetcher.publish(t, ids...)
	m := newTestManager(t, root, fetcher, activation.NewMemoryPathStore(basePath))

	steps := []struct {
		op string
		id string
	}{
		{"install", "3.9.0"}, {"use", "3.9.0"}, {"install", "3.10.0"},
		{"use", "3.8.0"}, {"use", "3.10.0"}, {"uninstall", "3.9.0"},
		{"install", "3.8.0"}, {"uninstall", "3.10.0"}, {"use", "3.10.0"},
		{"use", "3.8.0"}, {"install", "3.9.0"}, {"uninstall", "3.8.0"},
		{"uninstall", "3.8.0"}, {"use", "3.9.0"}, {"uninstall", "3.9.0"},
	}
	for i, step := range steps {
		var err error
		switch step.op {
		case "install":
			_, err = m.Install(ctx, step.id, InstallOptions{})
		case "use":
			err = m.Use(ctx, step.id)
		case "uninstall":
			err = m.Uninstall(ctx, step.id)
		}
		if err != nil {
			assert.ErrorIs(t, err, errkind.ErrNotInstalled, "step %d %s %s", i, step.op, step.id)
		}
		assertConsistent(t, m)
	}
	assert.Empty(t, listedIDs(t, m))
}

func TestRetryDelayIsCapped(t *testing.T) {
	p := retryPolicy{Attempts: 5, InitialDelay: time.Second, MaxDelay: 5 * time.Second}
	assert.Equal(t, time.Second, p.delay(0))
	assert.Equal(t, 2*time.Second, p.delay(1))
	assert.Equal(t, 4*time.Second, p.delay(2))
	assert.Equal(t, 5*time.Second, p.delay(3))
	assert.Equal(t, 5*time.Second, p.delay(10))
	assert.Equal(t, 1, retryPolicy{}.attempts())
}

func hasIssue(report Report, kind, subject string) bool {
	for _, issue := range report.Issues {
		if issue.Kind == kind && issue.Subject == subject {
			return true
		}
	}
	return false
}
