//go:build linux

package tunnel

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

const unixTunDevice = "/dev/net/tun"

// createTunDevice opens /dev/net/tun and attaches it to a new named TUN
// interface (IFF_TUN|IFF_NO_PI), owned by the running euid/egid, as
// original_source's _SystemUtils._create_tunnel does via fcntl.ioctl.
func createTunDevice(name string) (*os.File, string, error) {
	file, err := os.OpenFile(unixTunDevice, os.O_RDWR, 0)
	if err != nil {
		return nil, "", fmt.Errorf("opening %s: %w", unixTunDevice, err)
	}

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		file.Close()
		return nil, "", fmt.Errorf("building interface request for %q: %w", name, err)
	}
	ifr.SetUint16(unix.IFF_TUN | unix.IFF_NO_PI)
	if err := unix.IoctlIfreq(int(file.Fd()), unix.TUNSETIFF, ifr); err != nil {
		file.Close()
		return nil, "", fmt.Errorf("TUNSETIFF: %w", err)
	}

	if err := unix.IoctlSetInt(int(file.Fd()), unix.TUNSETOWNER, os.Geteuid()); err != nil {
		file.Close()
		return nil, "", fmt.Errorf("TUNSETOWNER: %w", err)
	}
	if err := unix.IoctlSetInt(int(file.Fd()), unix.TUNSETGROUP, os.Getegid()); err != nil {
		file.Close()
		return nil, "", fmt.Errorf("TUNSETGROUP: %w", err)
	}

	return file, ifr.Name(), nil
}

// disableIPv6 mirrors original_source's best-effort write to the
// per-interface disable_ipv6 sysctl file.
func disableIPv6(name string) error {
	path := filepath.Join("/proc/sys/net/ipv6/conf", name, "disable_ipv6")
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return os.WriteFile(path, []byte("1"), 0o644)
}
