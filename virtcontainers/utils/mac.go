// Copyright (c) 2018 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package utils

import (
	"encoding/hex"
	"net"
	"strings"

	vcerrors "github.com/kata-containers/kata-containers/src/netendpoint/virtcontainers/errors"
)

// MACLen is the length in bytes of an ethernet hardware address.
const MACLen = 6

// ParseMAC parses the canonical textual form of an ethernet address: six
// colon separated, two digit hex octets. Unlike net.ParseMAC it rejects the
// dash and dot notations and EUI-64/InfiniBand lengths.
func ParseMAC(s string) (net.HardwareAddr, error) {
	octets := strings.Split(s, ":")
	if len(octets) != MACLen {
		return nil, vcerrors.InvalidAddress("%q is not 6 colon separated octets", s)
	}

	addr := make(net.HardwareAddr, MACLen)
	for i, o := range octets {
		if len(o) != 2 {
			return nil, vcerrors.InvalidAddress("octet %d of %q is not two hex digits", i, s)
		}
		b, err := hex.DecodeString(o)
		if err != nil {
			return nil, vcerrors.InvalidAddress("octet %d of %q is not hex", i, s)
		}
		addr[i] = b[0]
	}

	return addr, nil
}

// FormatMAC returns the lowercase colon separated form of a 6 byte address.
func FormatMAC(b []byte) (string, error) {
	if len(b) != MACLen {
		return "", vcerrors.InvalidAddress("hardware address has %d bytes, expecting %d", len(b), MACLen)
	}

	return net.HardwareAddr(b).String(), nil
}

// GetMacAddr normalizes caller supplied address bytes into the canonical
// string stored on an endpoint. The string is parsed back so that it is
// known to round-trip before any host state is touched.
func GetMacAddr(raw []byte) (string, error) {
	s, err := FormatMAC(raw)
	if err != nil {
		return "", err
	}

	if _, err := ParseMAC(s); err != nil {
		return "", err
	}

	return s, nil
}

// GenerateRandomPrivateMacAddr returns a random, locally administered,
// unicast hardware address.
func GenerateRandomPrivateMacAddr() (string, error) {
	buf, err := GenerateRandomBytes(MACLen)
	if err != nil {
		return "", err
	}

	// Set the local bit for local addresses
	// Addresses in this range are local mac addresses:
	// x2-xx-xx-xx-xx-xx , x6-xx-xx-xx-xx-xx , xA-xx-xx-xx-xx-xx , xE-xx-xx-xx-xx-xx
	// Unset the multicast bit
	buf[0] = (buf[0] | 2) & 0xfe

	return FormatMAC(buf)
}
