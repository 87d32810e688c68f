package discovery

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/mikhailv/syncslides/internal/log"
	"github.com/mikhailv/syncslides/internal/util"
	"github.com/mikhailv/syncslides/syncslides/internal/config"
	"github.com/mikhailv/syncslides/syncslides/internal/metrics"
)

const (
	txtID    = "id"
	txtIface = "iface"
	txtAddr  = "addr"
)

var _ Discovery = (*Zeroconf)(nil)

// Zeroconf advertises and browses DNS-SD services over multicast DNS.
// zeroconf does not report goodbyes, a service missing from a whole browse round is lost.
type Zeroconf struct {
	cfg    config.Discovery
	logger *slog.Logger
}

func NewZeroconf(cfg config.Discovery, logger *slog.Logger) *Zeroconf {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 10 * time.Second
	}
	if cfg.BrowseTimeout <= 0 || cfg.BrowseTimeout > cfg.ScanInterval {
		cfg.BrowseTimeout = cfg.ScanInterval
	}
	return &Zeroconf{cfg, log.WithPrefix(logger, "zeroconf")}
}

func (z *Zeroconf) Advertise(ctx context.Context, svc Service) error {
	if len(svc.Addrs) == 0 {
		return errors.New("service has no address")
	}
	port, err := addrPort(svc.Addrs[0])
	if err != nil {
		return err
	}
	ifaces, err := selectInterfaces(svc.InterfaceName)
	if err != nil {
		return err
	}

	server, err := zeroconf.Register(svc.InstanceID, z.cfg.ServiceType, z.cfg.Domain.String(), port, serviceText(svc), ifaces)
	if err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}
	z.logger.Info("service registered", "service", svc)
	context.AfterFunc(ctx, func() {
		server.Shutdown()
		z.logger.Info("service unregistered", "service", svc)
	})
	return nil
}

func (z *Zeroconf) Scan(ctx context.Context, interfaceName string, fn func(Update)) error {
	ifaces, err := selectInterfaces(interfaceName)
	if err != nil {
		return err
	}

	roundCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	known := map[string]Service{}
	util.RunPeriodically(roundCtx, z.cfg.ScanInterval, true, func(ctx context.Context) {
		seen, err := z.browse(ctx, ifaces)
		if err != nil {
			cancel(err)
			return
		}
		if ctx.Err() != nil {
			return // partial round
		}
		var updates []Update
		updates, known = diffRound(known, seen, interfaceName)
		for _, u := range updates {
			fn(u)
		}
	})

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return context.Cause(roundCtx)
}

// diffRound compares a complete browse round with the services known from the previous one.
// New and changed services are found, known services missing from the round are lost.
// Services announced on another interface than interfaceName are ignored. Updates are ordered
// by kind, then instance id.
func diffRound(known, seen map[string]Service, interfaceName string) (updates []Update, next map[string]Service) {
	next = make(map[string]Service, len(seen))
	for id, svc := range seen {
		if interfaceName != "" && svc.InterfaceName != "" && svc.InterfaceName != interfaceName {
			continue
		}
		next[id] = svc
		if old, ok := known[id]; !ok || !old.equal(svc) {
			updates = append(updates, Update{Found, svc})
		}
	}
	for id, svc := range known {
		if _, ok := next[id]; !ok {
			updates = append(updates, Update{Lost, svc})
		}
	}
	slices.SortFunc(updates, func(a, b Update) int {
		return cmp.Or(cmp.Compare(a.Kind, b.Kind), strings.Compare(a.Service.InstanceID, b.Service.InstanceID))
	})
	return updates, next
}

// browse runs one browse round and returns the services seen, keyed by instance id.
func (z *Zeroconf) browse(ctx context.Context, ifaces []net.Interface) (map[string]Service, error) {
	defer metrics.TrackDuration("zeroconf.browse")()

	var opts []zeroconf.ClientOption
	if len(ifaces) > 0 {
		opts = append(opts, zeroconf.SelectIfaces(ifaces))
	}
	resolver, err := zeroconf.NewResolver(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, z.cfg.BrowseTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 16)
	if err = resolver.Browse(ctx, z.cfg.ServiceType, z.cfg.Domain.String(), entries); err != nil {
		return nil, fmt.Errorf("failed to browse: %w", err)
	}

	seen := map[string]Service{}
	for {
		select {
		case <-ctx.Done():
			return seen, nil
		case entry, ok := <-entries:
			if !ok {
				<-ctx.Done()
				return seen, nil
			}
			svc := serviceFromEntry(entry)
			seen[svc.InstanceID] = svc
		}
	}
}

func serviceText(svc Service) []string {
	text := []string{txtID + "=" + svc.InstanceID}
	if svc.InterfaceName != "" {
		text = append(text, txtIface+"="+svc.InterfaceName)
	}
	for _, addr := range svc.Addrs {
		text = append(text, txtAddr+"="+addr)
	}
	for k, v := range svc.Attrs {
		text = append(text, k+"="+v)
	}
	return text
}

// serviceFromEntry rebuilds an advertised Service. Addresses resolved by the browse come first,
// the advertised host names after them.
func serviceFromEntry(entry *zeroconf.ServiceEntry) Service {
	svc := Service{
		InstanceID: entry.Instance,
		Attrs:      map[string]string{},
	}
	var advertised []string
	for _, kv := range entry.Text {
		k, v, _ := strings.Cut(kv, "=")
		switch k {
		case txtID:
			svc.InstanceID = v
		case txtIface:
			svc.InterfaceName = v
		case txtAddr:
			advertised = append(advertised, v)
		default:
			svc.Attrs[k] = v
		}
	}
	for _, ip := range entry.AddrIPv4 {
		svc.Addrs = append(svc.Addrs, "http://"+net.JoinHostPort(ip.String(), strconv.Itoa(entry.Port)))
	}
	svc.Addrs = append(svc.Addrs, advertised...)
	return svc
}

func selectInterfaces(name string) ([]net.Interface, error) {
	if name == "" {
		return nil, nil
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("failed to find interface %s: %w", name, err)
	}
	return []net.Interface{*iface}, nil
}

func addrPort(addr string) (int, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return 0, fmt.Errorf("invalid service address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return 0, fmt.Errorf("invalid service address %q: no port", addr)
	}
	return port, nil
}
