package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/mikhailv/syncslides/internal/log"
	"github.com/mikhailv/syncslides/syncslides/internal/config"
	"github.com/mikhailv/syncslides/syncslides/internal/types"
)

// Advertiser announces live presentations of this node and answers detail requests for them.
type Advertiser struct {
	discovery     Discovery
	deviceID      string
	interfaceName string
	responderAddr string
	logger        *slog.Logger
}

func NewAdvertiser(discovery Discovery, cfg config.Discovery, deviceID string, logger *slog.Logger) *Advertiser {
	return &Advertiser{
		discovery:     discovery,
		deviceID:      deviceID,
		interfaceName: cfg.InterfaceName,
		responderAddr: cfg.ResponderAddr,
		logger:        log.WithPrefix(logger, "advertiser"),
	}
}

// Start advertises ad until ctx is done. An empty ad.ID gets a fresh instance id.
func (a *Advertiser) Start(ctx context.Context, ad types.PresentationAd) error {
	if ad.ID == "" {
		ad.ID = ulid.Make().String()
	}
	ln, err := net.Listen("tcp", a.responderAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle(NewInfoHandler(types.PresentationInfo{
		Presenter: ad.Presenter,
		DeckID:    ad.Deck.ID,
		Deck:      ad.Deck,
		JoinAddr:  ad.JoinAddr,
	}))
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("responder failed", "err", err, "ad", ad)
		}
	}()

	svc := Service{
		InstanceID:    ad.ID,
		InterfaceName: a.interfaceName,
		Addrs:         []string{responderURL(ln.Addr())},
		Attrs:         map[string]string{AttrDeviceID: a.deviceID},
	}
	if err = a.discovery.Advertise(ctx, svc); err != nil {
		_ = server.Close()
		return fmt.Errorf("failed to advertise: %w", err)
	}
	a.logger.Info("presentation advertised", "ad", ad, "addr", svc.Addrs[0])

	context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("failed to shutdown responder", "err", err)
		}
		a.logger.Info("presentation withdrawn", "ad", ad)
	})
	return nil
}

// responderURL is the base URL peers use to reach addr. A wildcard listener is announced by
// host name, resolvable over multicast DNS.
func responderURL(addr net.Addr) string {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return "http://" + addr.String()
	}
	host := tcpAddr.IP.String()
	if tcpAddr.IP.IsUnspecified() {
		if hostname, err := os.Hostname(); err == nil {
			host = hostname + ".local"
		}
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(tcpAddr.Port))
}
