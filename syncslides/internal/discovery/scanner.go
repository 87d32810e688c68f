package discovery

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/mikhailv/syncslides/internal/log"
	"github.com/mikhailv/syncslides/syncslides/internal/config"
	"github.com/mikhailv/syncslides/syncslides/internal/feed"
	"github.com/mikhailv/syncslides/syncslides/internal/types"
)

var _ feed.Source[types.PresentationAd] = (*Scanner)(nil)

// Scanner feeds the live presentations advertised by other devices. Found services are
// hydrated over the detail procedure before they are emitted, those that cannot be reached are dropped.
type Scanner struct {
	discovery     Discovery
	client        *InfoClient
	deviceID      string
	interfaceName string
	fetchTimeout  time.Duration
	logger        *slog.Logger
}

func NewScanner(discovery Discovery, client *InfoClient, cfg config.Discovery, deviceID string, logger *slog.Logger) *Scanner {
	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = 5 * time.Second
	}
	return &Scanner{
		discovery:     discovery,
		client:        client,
		deviceID:      deviceID,
		interfaceName: cfg.InterfaceName,
		fetchTimeout:  fetchTimeout,
		logger:        log.WithPrefix(logger, "scanner"),
	}
}

func (s *Scanner) Compare(a, b types.PresentationAd) int {
	return strings.Compare(a.ID, b.ID)
}

// Watch starts empty and follows the scan. Hydration runs inline so a Lost never overtakes
// the Found of the same service.
func (s *Scanner) Watch(ctx context.Context, emit func(feed.Event[types.PresentationAd])) error {
	return s.discovery.Scan(ctx, s.interfaceName, func(u Update) {
		switch u.Kind {
		case Found:
			if u.Service.Attrs[AttrDeviceID] == s.deviceID {
				return
			}
			if ad, ok := s.hydrate(ctx, u.Service); ok {
				emit(feed.PutEvent(ad))
			}
		case Lost:
			s.logger.Debug("service lost", "service", u.Service)
			emit(feed.DeleteEvent(types.PresentationAd{ID: u.Service.InstanceID}))
		}
	})
}

func (s *Scanner) hydrate(ctx context.Context, svc Service) (types.PresentationAd, bool) {
	if len(svc.Addrs) == 0 {
		s.logger.Warn("skip service without address", "service", svc)
		return types.PresentationAd{}, false
	}
	ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	var errs []error
	for _, addr := range svc.Addrs {
		info, err := s.client.GetInfo(ctx, addr)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		deck := info.Deck
		if deck.ID == "" {
			deck.ID = info.DeckID
		}
		ad := types.PresentationAd{
			ID:        svc.InstanceID,
			Presenter: info.Presenter,
			Deck:      deck,
			JoinAddr:  info.JoinAddr,
		}
		s.logger.Debug("service found", "ad", ad)
		return ad, true
	}
	s.logger.Warn("failed to fetch presentation info", "service", svc, "err", errors.Join(errs...))
	return types.PresentationAd{}, false
}
