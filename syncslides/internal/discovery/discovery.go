// Package discovery finds live presentations on the local network and advertises our own.
package discovery

import (
	"context"
	"log/slog"
	"maps"
	"slices"
)

const AttrDeviceID = "device_id"

type UpdateKind uint8

const (
	Found UpdateKind = iota + 1
	Lost
)

func (k UpdateKind) String() string {
	switch k {
	case Found:
		return "found"
	case Lost:
		return "lost"
	default:
		return "unknown"
	}
}

// Service is one advertisement. Addrs are base URLs of the advertiser's detail responder.
type Service struct {
	InstanceID    string
	InterfaceName string
	Addrs         []string
	Attrs         map[string]string
}

func (s Service) equal(o Service) bool {
	return s.InstanceID == o.InstanceID &&
		s.InterfaceName == o.InterfaceName &&
		slices.Equal(s.Addrs, o.Addrs) &&
		maps.Equal(s.Attrs, o.Attrs)
}

func (s Service) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", s.InstanceID),
		slog.String("iface", s.InterfaceName),
		slog.Any("addrs", s.Addrs),
	)
}

type Update struct {
	Kind    UpdateKind
	Service Service
}

type Discovery interface {
	// Advertise publishes svc until ctx is done. It returns once the service is registered.
	Advertise(ctx context.Context, svc Service) error

	// Scan calls fn for every service appearing on or leaving interfaceName (any interface when
	// empty) until ctx is done. fn is never called concurrently.
	Scan(ctx context.Context, interfaceName string, fn func(Update)) error
}
