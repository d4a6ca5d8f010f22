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

package goproxmox

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sergelogvinov/proxmox-inventory-sync/pkg/utils/ip"
)

// SDNZone is an entry of /cluster/sdn/zones.
type SDNZone struct {
	Zone    string `json:"zone"`
	Type    string `json:"type"`
	DHCP    string `json:"dhcp,omitempty"`
	DNSZone string `json:"dnszone,omitempty"`
}

// SDNVnet is an entry of /cluster/sdn/vnets.
type SDNVnet struct {
	Vnet  string `json:"vnet"`
	Zone  string `json:"zone"`
	Alias string `json:"alias,omitempty"`
	Tag   int    `json:"tag,omitempty"`
}

// SDNSubnet is an entry of /cluster/sdn/vnets/{vnet}/subnets.
type SDNSubnet struct {
	Subnet        string         `json:"subnet"`
	CIDR          string         `json:"cidr"`
	Gateway       string         `json:"gateway,omitempty"`
	DHCPDNSServer string         `json:"dhcp-dns-server,omitempty"`
	DNSZonePrefix string         `json:"dnszoneprefix,omitempty"`
	DHCPRange     []SDNDHCPRange `json:"dhcp-range,omitempty"`
}

// SDNDHCPRange is a subnet DHCP range. The API returns it either as an object
// or as a "start-address=...,end-address=..." property string.
type SDNDHCPRange struct {
	StartAddress string `json:"start-address"`
	EndAddress   string `json:"end-address"`
}

func (r *SDNDHCPRange) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return r.UnmarshalString(s)
	}

	type plain SDNDHCPRange

	return json.Unmarshal(data, (*plain)(r))
}

// UnmarshalString parses the property string form.
func (r *SDNDHCPRange) UnmarshalString(s string) error {
	for _, kv := range strings.Split(s, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(kv), "=")
		if !ok {
			return fmt.Errorf("invalid dhcp range %q", s)
		}

		switch key {
		case "start-address":
			r.StartAddress = value
		case "end-address":
			r.EndAddress = value
		}
	}

	return nil
}

// NetworkFromSDN builds a network from a vnet, its zone and its subnets.
// The first IPv4 subnet, or else the first subnet, becomes the IP configuration.
func NetworkFromSDN(vnet SDNVnet, zone *SDNZone, subnets []SDNSubnet) (Network, error) {
	n := Network{
		ExternalID: vnet.Vnet,
		Name:       vnet.Vnet,
		Zone:       vnet.Zone,
		VLANID:     vnet.Tag,
	}

	if vnet.Alias != "" {
		n.Name = vnet.Alias
	}

	if len(subnets) == 0 {
		return n, nil
	}

	sorted := make([]SDNSubnet, len(subnets))
	copy(sorted, subnets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return !strings.Contains(sorted[i].CIDR, ":") && strings.Contains(sorted[j].CIDR, ":")
	})

	subnet := sorted[0]

	cfg := &IPConfig{
		CIDR:    subnet.CIDR,
		Gateway: subnet.Gateway,
	}

	if cfg.Gateway == "" {
		gw, err := ip.CIDRHost(subnet.CIDR, 1)
		if err != nil {
			return n, fmt.Errorf("invalid subnet %s of vnet %s: %w", subnet.CIDR, vnet.Vnet, err)
		}

		cfg.Gateway = gw
	}

	if subnet.DHCPDNSServer != "" {
		cfg.DNSServers = []string{subnet.DHCPDNSServer}
	}

	if zone != nil {
		cfg.DomainName = zone.DNSZone

		if zone.DHCP != "" {
			cfg.DHCPServer = cfg.Gateway
		}
	}

	if subnet.DNSZonePrefix != "" && cfg.DomainName != "" {
		cfg.DomainName = subnet.DNSZonePrefix + "." + cfg.DomainName
	}

	for _, r := range subnet.DHCPRange {
		if r.StartAddress == "" || r.EndAddress == "" {
			continue
		}

		cfg.Ranges = append(cfg.Ranges, r.StartAddress+" "+r.EndAddress)
	}

	if len(cfg.Ranges) == 0 {
		r, err := ip.HostRange(subnet.CIDR)
		if err != nil {
			return n, fmt.Errorf("invalid subnet %s of vnet %s: %w", subnet.CIDR, vnet.Vnet, err)
		}

		cfg.Ranges = []string{r.String()}
	}

	n.IPConfig = cfg

	return n, nil
}
