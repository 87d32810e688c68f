package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/pion/mdns"
	"golang.org/x/net/ipv4"

	"github.com/mikhailv/syncslides/syncslides/internal/metrics"
)

// MDNSDialer dials ".local" hosts after resolving them over multicast DNS,
// every other address goes to the system resolver.
type MDNSDialer struct {
	address string
	timeout time.Duration
	dialer  net.Dialer
	conn    struct {
		sync.Mutex
		*mdns.Conn
	}
}

func NewMDNSDialer(address string, timeout time.Duration) *MDNSDialer {
	return &MDNSDialer{
		address: address,
		timeout: timeout,
	}
}

func (d *MDNSDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || !isLocalName(host) {
		return d.dialer.DialContext(ctx, network, addr)
	}
	ip, err := d.resolve(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", host, err)
	}
	return d.dialer.DialContext(ctx, network, net.JoinHostPort(ip.String(), port))
}

func (d *MDNSDialer) resolve(ctx context.Context, host string) (net.IP, error) {
	defer metrics.TrackDuration("mdns.resolve")()
	conn, err := d.connection()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	_, src, err := conn.Query(ctx, strings.TrimRight(host, "."))
	if err != nil {
		return nil, err
	}
	switch src := src.(type) {
	case *net.IPAddr:
		return src.IP, nil
	case *net.UDPAddr:
		return src.IP, nil
	default:
		return nil, fmt.Errorf("unexpected answer source %v", src)
	}
}

func (d *MDNSDialer) connection() (*mdns.Conn, error) {
	d.conn.Lock()
	defer d.conn.Unlock()
	if d.conn.Conn != nil {
		return d.conn.Conn, nil
	}

	addr, err := net.ResolveUDPAddr("udp4", d.address)
	if err != nil {
		return nil, err
	}
	pconn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, err
	}
	conn, err := mdns.Server(ipv4.NewPacketConn(pconn), &mdns.Config{})
	if err != nil {
		return nil, errors.Join(err, pconn.Close())
	}
	d.conn.Conn = conn
	return conn, nil
}

func (d *MDNSDialer) Close() error {
	d.conn.Lock()
	defer d.conn.Unlock()
	if d.conn.Conn == nil {
		return nil
	}
	err := d.conn.Conn.Close()
	d.conn.Conn = nil
	return err
}

func isLocalName(host string) bool {
	if host == "" || net.ParseIP(host) != nil {
		return false
	}
	return dns.IsSubDomain("local.", dns.Fqdn(host))
}
