package config

import (
	"fmt"

	"github.com/miekg/dns"
)

type StorageDriver string

const (
	StorageMemory StorageDriver = "memory"
	StorageBolt   StorageDriver = "bolt"
	StorageRedis  StorageDriver = "redis"
)

func (d StorageDriver) validate() error {
	switch d {
	case StorageMemory, StorageBolt, StorageRedis:
		return nil
	default:
		return fmt.Errorf("unknown storage driver %q", string(d))
	}
}

type DiscoveryDriver string

const (
	DiscoveryZeroconf DiscoveryDriver = "zeroconf"
	DiscoveryNone     DiscoveryDriver = "none"
)

func (d DiscoveryDriver) validate() error {
	switch d {
	case DiscoveryZeroconf, DiscoveryNone:
		return nil
	default:
		return fmt.Errorf("unknown discovery driver %q", string(d))
	}
}

// Domain is a fully qualified DNS domain, "local" is stored as "local.".
type Domain string

func (d *Domain) UnmarshalText(b []byte) error {
	name := string(b)
	if _, ok := dns.IsDomainName(name); !ok {
		return fmt.Errorf("invalid domain %q", name)
	}
	*d = Domain(dns.Fqdn(name))
	return nil
}

func (d Domain) String() string {
	return string(d)
}
