// Package tunnel creates and tears down the layer-3 TUN device and the
// iptables/ip-route forwarding rules that steer a host's traffic into
// it (§4.5, §6.1). The device itself is Linux-only (see
// tunnel_linux.go); the interface/routing discovery and firewall rule
// management shell out to the `ip` and `iptables` binaries, mirroring
// the teacher's own exec.Command-based OS interaction in
// identity_windows.go.
package tunnel

import (
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/rs/zerolog"
)

// Config describes the tunnel interface to create (§6.1, §6.3).
type Config struct {
	Name           string // interface name, e.g. "seatun0"
	Address        string // tunnel interface IPv4 address
	Netmask        string // tunnel interface IPv4 netmask
	SVA            int    // fwmark value and routing table number
	SeasideAddress string // the remote node's address, used to find the default route
}

// Tunnel owns one TUN device plus the firewall/routing state installed
// for it. It is created, brought up, driven by the pump, and finally
// brought down and deleted — mirroring original_source's Tunnel class
// (§4.5, §4.6).
type Tunnel struct {
	cfg Config
	log zerolog.Logger

	file *os.File
	name string

	tunnelIP  net.IP
	tunnelNet *net.IPNet

	defaultIface string
	defaultNet   *net.IPNet
	mtu          int

	savedRoutes []string

	active      bool
	operational bool
}

// New creates the TUN device and resolves the host's default route, but
// does not yet install any firewall rules (call Up for that).
func New(cfg Config, log zerolog.Logger) (*Tunnel, error) {
	ip := net.ParseIP(cfg.Address).To4()
	if ip == nil {
		return nil, fmt.Errorf("tunnel: invalid tunnel address %q", cfg.Address)
	}
	mask := net.ParseIP(cfg.Netmask).To4()
	if mask == nil {
		return nil, fmt.Errorf("tunnel: invalid tunnel netmask %q", cfg.Netmask)
	}
	ipNet := &net.IPNet{IP: ip.Mask(net.IPMask(mask)), Mask: net.IPMask(mask)}
	if ip.Equal(ipNet.IP) || ip.Equal(broadcastAddr(ipNet)) {
		return nil, fmt.Errorf("tunnel: address %s is reserved in network %s", ip, ipNet)
	}

	defaultIface, defaultNet, mtu, err := defaultRoute(cfg.SeasideAddress)
	if err != nil {
		return nil, fmt.Errorf("tunnel: resolving default interface: %w", err)
	}

	file, devName, err := createTunDevice(cfg.Name)
	if err != nil {
		return nil, fmt.Errorf("tunnel: creating device: %w", err)
	}
	log.Info().Str("tunnel", devName).Msg("tunnel: device created")

	if err := disableIPv6(devName); err != nil {
		log.Debug().Err(err).Msg("tunnel: could not disable ipv6 on device")
	}

	return &Tunnel{
		cfg:          cfg,
		log:          log,
		file:         file,
		name:         devName,
		tunnelIP:     ip,
		tunnelNet:    ipNet,
		defaultIface: defaultIface,
		defaultNet:   defaultNet,
		mtu:          mtu,
		active:       true,
	}, nil
}

// Descriptor returns the open TUN device, for the pump to read/write.
func (t *Tunnel) Descriptor() *os.File { return t.file }

// Read and Write satisfy pump.Device directly against the TUN file
// descriptor, so a *Tunnel can be handed to pump.New without a wrapper.
func (t *Tunnel) Read(p []byte) (int, error)  { return t.file.Read(p) }
func (t *Tunnel) Write(p []byte) (int, error) { return t.file.Write(p) }

// Close closes the TUN file descriptor without touching routing or
// firewall state, unblocking a pending Read on cancellation. Delete
// still performs the full teardown and closes the descriptor itself if
// Close was never called.
func (t *Tunnel) Close() error { return t.file.Close() }

// Operational reports whether Up has installed the routing/firewall
// state and not yet been undone by Down.
func (t *Tunnel) Operational() bool { return t.operational }

// DefaultIP returns the host's IP address on its default network
// interface, discovered while resolving the route to the remote node.
func (t *Tunnel) DefaultIP() string { return t.defaultNet.IP.String() }

// Up installs the forwarding iptables rules, assigns the tunnel
// interface its address/MTU, brings it up, and directs the SVA fwmark
// table at it (§6.1).
func (t *Tunnel) Up() error {
	if err := t.installFirewallRules(); err != nil {
		return err
	}
	t.log.Info().Int("mark", t.cfg.SVA).Msg("tunnel: packet forwarding rules configured")

	if err := runIP("link", "set", "dev", t.name, "mtu", fmt.Sprint(t.mtu)); err != nil {
		return fmt.Errorf("tunnel: setting mtu: %w", err)
	}
	cidr, _ := t.tunnelNet.Mask.Size()
	if err := runIP("addr", "replace", fmt.Sprintf("%s/%d", t.tunnelIP, cidr), "dev", t.name); err != nil {
		return fmt.Errorf("tunnel: setting address: %w", err)
	}
	if err := runIP("link", "set", "dev", t.name, "up"); err != nil {
		return fmt.Errorf("tunnel: bringing interface up: %w", err)
	}

	saved, err := captureRoutes(t.cfg.SVA)
	if err != nil {
		t.log.Debug().Err(err).Msg("tunnel: capturing prior table routes")
	}
	t.savedRoutes = saved

	if err := runIP("route", "flush", "table", fmt.Sprint(t.cfg.SVA)); err != nil {
		t.log.Debug().Err(err).Msg("tunnel: flushing sva table")
	}
	if err := runIP("route", "add", "default", "via", t.tunnelIP.String(), "dev", t.name, "table", fmt.Sprint(t.cfg.SVA)); err != nil {
		return fmt.Errorf("tunnel: adding default route: %w", err)
	}
	if err := runIP("rule", "add", "fwmark", fmt.Sprint(t.cfg.SVA), "table", fmt.Sprint(t.cfg.SVA)); err != nil {
		return fmt.Errorf("tunnel: adding fwmark rule: %w", err)
	}
	flushRouteCache()

	t.operational = true
	t.log.Info().Msg("tunnel: packet forwarding via tunnel enabled")
	return nil
}

// Down removes the firewall rules and the fwmark routing rule, restores
// whatever routes previously occupied the SVA table, and takes the
// interface down (§6.1).
func (t *Tunnel) Down() error {
	if err := t.removeFirewallRules(); err != nil {
		t.log.Debug().Err(err).Msg("tunnel: removing firewall rules")
	}

	if err := runIP("rule", "del", "fwmark", fmt.Sprint(t.cfg.SVA), "table", fmt.Sprint(t.cfg.SVA)); err != nil {
		t.log.Debug().Err(err).Msg("tunnel: removing fwmark rule")
	}
	restoreRoutes(t.cfg.SVA, t.savedRoutes)
	flushRouteCache()

	if err := runIP("link", "set", "dev", t.name, "down"); err != nil {
		t.log.Debug().Err(err).Msg("tunnel: bringing interface down")
	}
	t.operational = false
	t.log.Info().Msg("tunnel: packet forwarding via tunnel disabled")
	return nil
}

// Delete brings the tunnel down if still operational, removes the
// interface, and closes its file descriptor. Idempotent (§5).
func (t *Tunnel) Delete() error {
	if t.operational {
		if err := t.Down(); err != nil {
			t.log.Debug().Err(err).Msg("tunnel: down during delete")
		}
	}
	if !t.active {
		t.log.Info().Str("tunnel", t.name).Msg("tunnel: already deleted")
		return nil
	}
	if err := runIP("link", "del", t.name); err != nil {
		t.log.Debug().Err(err).Msg("tunnel: deleting interface")
	}
	t.active = false
	err := t.file.Close()
	if errors.Is(err, os.ErrClosed) {
		err = nil
	}
	t.log.Info().Str("tunnel", t.name).Msg("tunnel: deleted")
	return err
}

func broadcastAddr(n *net.IPNet) net.IP {
	ip := make(net.IP, len(n.IP))
	for i := range ip {
		ip[i] = n.IP[i] | ^n.Mask[i]
	}
	return ip
}
