//go:build windows

package activation

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
)

const (
	environmentKey   = `Environment`
	pathValueName    = "Path"
	hwndBroadcast    = 0xffff
	wmSettingChange  = 0x001A
	smtoAbortIfHung  = 0x0002
	broadcastTimeout = 5000
)

var procSendMessageTimeout = windows.NewLazySystemDLL("user32.dll").NewProc("SendMessageTimeoutW")

// RegistryPathStore reads and writes the per-user Path value under
// HKEY_CURRENT_USER\Environment.
type RegistryPathStore struct{}

func newRegistryPathStore() (PathStore, error) {
	return RegistryPathStore{}, nil
}

func (RegistryPathStore) Read() (string, error) {
	key, err := registry.OpenKey(registry.CURRENT_USER, environmentKey, registry.QUERY_VALUE)
	if err != nil {
		return "", fmt.Errorf("open environment key: %w", err)
	}
	defer key.Close()

	value, _, err := key.GetStringValue(pathValueName)
	if err != nil {
		if errors.Is(err, registry.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("query Path: %w", err)
	}
	return value, nil
}

// Write replaces Path in one registry call and notifies running programs
// that the environment changed.
func (RegistryPathStore) Write(value string) error {
	key, err := registry.OpenKey(registry.CURRENT_USER, environmentKey, registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("open environment key: %w", err)
	}
	defer key.Close()

	if err := key.SetExpandStringValue(pathValueName, value); err != nil {
		return fmt.Errorf("set Path: %w", err)
	}
	broadcastEnvironmentChange()
	return nil
}

func broadcastEnvironmentChange() {
	param, err := windows.UTF16PtrFromString(environmentKey)
	if err != nil {
		return
	}
	var result uintptr
	_, _, _ = procSendMessageTimeout.Call(
		hwndBroadcast,
		wmSettingChange,
		0,
		uintptr(unsafe.Pointer(param)),
		smtoAbortIfHung,
		broadcastTimeout,
		uintptr(unsafe.Pointer(&result)),
	)
}
