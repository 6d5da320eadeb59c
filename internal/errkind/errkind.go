// Package errkind defines the failure taxonomy shared by every pyvm component.
//
// Components wrap one of the sentinels below with context; callers match them
// with errors.Is. Name reports the kind for the command surface.
package errkind

import (
	"errors"
	"fmt"
)

var (
	ErrIntegrityMismatch = errors.New("integrity mismatch")
	ErrDownloadFailed    = errors.New("download failed")
	ErrVersionNotFound   = errors.New("version not found upstream")
	ErrAlreadyInstalled  = errors.New("already installed")
	ErrNotInstalled      = errors.New("not installed")
	ErrNotFound          = errors.New("not found")
	ErrDuplicateVersion  = errors.New("duplicate version")
	ErrIsActive          = errors.New("version is active")
	ErrInUse             = errors.New("in use")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrDiskFull          = errors.New("disk full")
	ErrLockContention    = errors.New("lock contention")
	ErrCorruptArchive    = errors.New("corrupt archive")
	ErrRegistryCorrupt   = errors.New("registry corrupt")
	ErrInvalidVersion    = errors.New("invalid version")
)

var kindNames = []struct {
	err  error
	name string
}{
	{ErrIntegrityMismatch, "IntegrityMismatch"},
	{ErrVersionNotFound, "VersionNotFound"},
	{ErrDownloadFailed, "DownloadFailed"},
	{ErrAlreadyInstalled, "AlreadyInstalled"},
	{ErrNotInstalled, "NotInstalled"},
	{ErrNotFound, "NotFound"},
	{ErrDuplicateVersion, "DuplicateVersion"},
	{ErrIsActive, "IsActive"},
	{ErrInUse, "InUse"},
	{ErrPermissionDenied, "PermissionDenied"},
	{ErrDiskFull, "DiskFull"},
	{ErrLockContention, "LockContention"},
	{ErrCorruptArchive, "CorruptArchive"},
	{ErrRegistryCorrupt, "RegistryCorrupt"},
	{ErrInvalidVersion, "InvalidVersion"},
}

// Name returns the taxonomy name of err, or "Internal" when err does not wrap
// a known kind.
func Name(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kindNames {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}

// Classify maps operating-system failures onto the taxonomy. Errors that are
// already classified, or that carry no recognisable errno, are returned as-is.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kindNames {
		if errors.Is(err, k.err) {
			return err
		}
	}
	switch {
	case isDiskFull(err):
		return fmt.Errorf("%w: %s: %w", ErrDiskFull, op, err)
	case isInUse(err):
		return fmt.Errorf("%w: %s: %w", ErrInUse, op, err)
	case isPermission(err):
		return fmt.Errorf("%w: %s: %w", ErrPermissionDenied, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsCrossDevice reports whether err is a rename failure across filesystems.
func IsCrossDevice(err error) bool {
	return isCrossDevice(err)
}
