//go:build !linux

package tunnel

import (
	"fmt"
	"os"
	"runtime"
)

func createTunDevice(name string) (*os.File, string, error) {
	return nil, "", fmt.Errorf("tunnel: TUN devices are not supported on %s", runtime.GOOS)
}

func disableIPv6(name string) error { return nil }
