package utils

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// IPv4Uint32 returns the big-endian integer value of an IPv4 address.
func IPv4Uint32(addr netip.Addr) (uint32, error) {
	if !addr.Is4() && !addr.Is4In6() {
		return 0, fmt.Errorf("%s is not an IPv4 address", addr)
	}
	b := addr.Unmap().As4()
	return binary.BigEndian.Uint32(b[:]), nil
}

// IPv4Hex formats an IPv4 address as a BMv2 CLI action parameter, e.g. 0x0A000102.
func IPv4Hex(addr netip.Addr) (string, error) {
	v, err := IPv4Uint32(addr)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("0x%08X", v), nil
}
