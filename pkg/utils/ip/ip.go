/*
Copyright 2025 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package ip

import (
	"fmt"
	"math/big"
	"net"
	"strings"

	gocidr "github.com/apparentlymart/go-cidr/cidr"
)

// Range is an inclusive address range.
type Range struct {
	Start net.IP
	End   net.IP
}

// Count returns the number of addresses in the range.
func (r Range) Count() int64 {
	start := new(big.Int).SetBytes(normalize(r.Start))
	end := new(big.Int).SetBytes(normalize(r.End))

	n := new(big.Int).Sub(end, start)
	n.Add(n, big.NewInt(1))

	if !n.IsInt64() {
		return -1
	}

	return n.Int64()
}

func (r Range) String() string {
	return r.Start.String() + " " + r.End.String()
}

// CIDRHost returns the IP address of the given host number in the given CIDR.
func CIDRHost(cidr string, hostnum ...int) (string, error) {
	ip, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return "", err
	}

	if len(hostnum) == 0 {
		return ip.String(), nil
	}

	ip, err = gocidr.Host(ipnet, hostnum[0])
	if err != nil {
		return "", err
	}

	return ip.String(), nil
}

// Netmask returns the dotted netmask of an IPv4 CIDR, or the prefix length for IPv6.
func Netmask(cidr string) (string, error) {
	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return "", err
	}

	if ipnet.IP.To4() != nil {
		return net.IP(ipnet.Mask).String(), nil
	}

	ones, _ := ipnet.Mask.Size()

	return fmt.Sprintf("%d", ones), nil
}

// HostRange returns the usable host addresses of a CIDR.
// IPv4 networks exclude the network and broadcast addresses when the prefix allows it.
func HostRange(cidr string) (Range, error) {
	_, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return Range{}, err
	}

	first, last := gocidr.AddressRange(ipnet)

	ones, bits := ipnet.Mask.Size()
	if bits-ones > 1 {
		first = gocidr.Inc(first)

		if ipnet.IP.To4() != nil {
			last = gocidr.Dec(last)
		}
	}

	return Range{Start: first, End: last}, nil
}

// ParseRange parses a "start end" token pair.
func ParseRange(token string) (Range, error) {
	fields := strings.Fields(token)
	if len(fields) != 2 {
		return Range{}, fmt.Errorf("invalid range %q: expected \"start end\"", token)
	}

	start := net.ParseIP(fields[0])
	end := net.ParseIP(fields[1])

	if start == nil || end == nil {
		return Range{}, fmt.Errorf("invalid range %q: bad address", token)
	}

	if (start.To4() == nil) != (end.To4() == nil) {
		return Range{}, fmt.Errorf("invalid range %q: mixed address families", token)
	}

	r := Range{Start: start, End: end}
	if r.Count() <= 0 {
		return Range{}, fmt.Errorf("invalid range %q: start after end", token)
	}

	return r, nil
}

func normalize(ip net.IP) net.IP {
	if v4 := ip.To4(); v4 != nil {
		return v4
	}

	return ip.To16()
}
