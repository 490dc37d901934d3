package tunnel

import (
	"net"
	"testing"

	"github.com/rs/zerolog"
)

func TestBroadcastAddr(t *testing.T) {
	_, ipNet, err := net.ParseCIDR("10.70.0.0/24")
	if err != nil {
		t.Fatalf("ParseCIDR: %v", err)
	}
	got := broadcastAddr(ipNet)
	want := net.ParseIP("10.70.0.255").To4()
	if !got.Equal(want) {
		t.Fatalf("broadcastAddr(%v) = %v, want %v", ipNet, got, want)
	}
}

func TestNewRejectsReservedAddress(t *testing.T) {
	cfg := Config{
		Name:           "seatunX",
		Address:        "10.70.0.0",
		Netmask:        "255.255.255.0",
		SVA:            70,
		SeasideAddress: "198.51.100.1",
	}
	if _, err := New(cfg, zerolog.Nop()); err == nil {
		t.Fatal("expected New to reject a network-address tunnel address")
	}
}

func TestNewRejectsMalformedAddress(t *testing.T) {
	cfg := Config{Name: "seatunX", Address: "not-an-ip", Netmask: "255.255.255.0", SVA: 70}
	if _, err := New(cfg, zerolog.Nop()); err == nil {
		t.Fatal("expected New to reject a malformed tunnel address")
	}
}
