package discovery

import (
	"context"
	"fmt"
	"sync"
)

var _ Discovery = (*LocalNetwork)(nil)

// LocalNetwork is an in-process discovery bus shared by everything holding the same instance.
type LocalNetwork struct {
	mu       sync.Mutex
	services map[string]Service
	scanners map[*localScanner]struct{}
}

type localScanner struct {
	interfaceName string
	queue         []Update
	signal        chan struct{}
}

func NewLocalNetwork() *LocalNetwork {
	return &LocalNetwork{
		services: map[string]Service{},
		scanners: map[*localScanner]struct{}{},
	}
}

func (n *LocalNetwork) Advertise(ctx context.Context, svc Service) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.services[svc.InstanceID]; ok {
		return fmt.Errorf("service %s is already advertised", svc.InstanceID)
	}
	n.services[svc.InstanceID] = svc
	n.publish(Update{Found, svc})

	context.AfterFunc(ctx, func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.services, svc.InstanceID)
		n.publish(Update{Lost, svc})
	})
	return nil
}

func (n *LocalNetwork) Scan(ctx context.Context, interfaceName string, fn func(Update)) error {
	s := &localScanner{interfaceName: interfaceName, signal: make(chan struct{}, 1)}
	n.mu.Lock()
	for _, svc := range n.services {
		s.push(Update{Found, svc})
	}
	n.scanners[s] = struct{}{}
	n.mu.Unlock()

	defer func() {
		n.mu.Lock()
		delete(n.scanners, s)
		n.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.signal:
		}
		n.mu.Lock()
		updates := s.queue
		s.queue = nil
		n.mu.Unlock()
		for _, u := range updates {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fn(u)
		}
	}
}

func (n *LocalNetwork) publish(u Update) {
	for s := range n.scanners {
		s.push(u)
	}
}

func (s *localScanner) push(u Update) {
	if s.interfaceName != "" && s.interfaceName != u.Service.InterfaceName {
		return
	}
	s.queue = append(s.queue, u)
	select {
	case s.signal <- struct{}{}:
	default:
	}
}
