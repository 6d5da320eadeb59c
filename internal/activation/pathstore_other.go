//go:build !windows

package activation

import "errors"

func newRegistryPathStore() (PathStore, error) {
	return nil, errors.New("registry activation target is only available on windows")
}
