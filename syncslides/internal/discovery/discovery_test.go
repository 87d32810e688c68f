package discovery

import (
	"context"
	"io"
	"log/slog"
	"maps"
	"net"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/grandcat/zeroconf"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/mikhailv/syncslides/syncslides/internal/config"
	"github.com/mikhailv/syncslides/syncslides/internal/feed"
	"github.com/mikhailv/syncslides/syncslides/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("nothing received in time")
		panic("unreachable")
	}
}

func TestLocalNetwork(t *testing.T) {
	network := NewLocalNetwork()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	early := Service{InstanceID: "early", InterfaceName: "eth0", Addrs: []string{"http://a:1"}}
	advCtx, withdraw := context.WithCancel(ctx)
	assert.Equal(t, network.Advertise(advCtx, early), nil)
	assert.NotEqual(t, network.Advertise(ctx, early), nil)

	updates := make(chan Update, 16)
	go func() { _ = network.Scan(ctx, "eth0", func(u Update) { updates <- u }) }()

	u := receive(t, updates)
	assert.Equal(t, Found, u.Kind)
	assert.Equal(t, "early", u.Service.InstanceID)

	// other interfaces are not reported
	assert.Equal(t, network.Advertise(ctx, Service{InstanceID: "wifi", InterfaceName: "wlan0"}), nil)
	assert.Equal(t, network.Advertise(ctx, Service{InstanceID: "late", InterfaceName: "eth0"}), nil)
	u = receive(t, updates)
	assert.Equal(t, Found, u.Kind)
	assert.Equal(t, "late", u.Service.InstanceID)

	withdraw()
	u = receive(t, updates)
	assert.Equal(t, Lost, u.Kind)
	assert.Equal(t, "early", u.Service.InstanceID)
}

func TestInfoRoundTrip(t *testing.T) {
	info := types.PresentationInfo{
		Presenter: types.Person{ID: "p1", Name: "Alice"},
		DeckID:    "d1",
		Deck:      types.Deck{ID: "d1", Title: "Intro"},
		JoinAddr:  types.JoinAddr("d1", "pres1"),
	}
	mux := http.NewServeMux()
	mux.Handle(NewInfoHandler(info))
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewInfoClient(time.Second, NewMDNSDialer("224.0.0.251:5353", time.Second))
	got, err := client.GetInfo(context.Background(), server.URL+"/")
	assert.Equal(t, err, nil)
	assert.Equal(t, info, got)
}

func TestInfoClientUnreachable(t *testing.T) {
	client := NewInfoClient(time.Second, nil)
	_, err := client.GetInfo(context.Background(), "http://127.0.0.1:1")
	assert.NotEqual(t, err, nil)
}

func TestJSONCodec(t *testing.T) {
	codec := jsonCodec{}

	data, err := codec.Marshal(&emptypb.Empty{})
	assert.Equal(t, err, nil)
	assert.Equal(t, "{}", string(data))
	assert.Equal(t, codec.Unmarshal(nil, &emptypb.Empty{}), nil)

	data, err = codec.Marshal(&types.Person{ID: "1", Name: "Bob"})
	assert.Equal(t, err, nil)
	var person types.Person
	assert.Equal(t, codec.Unmarshal(data, &person), nil)
	assert.Equal(t, "Bob", person.Name)
}

func TestIsLocalName(t *testing.T) {
	assert.Equal(t, true, isLocalName("laptop.local"))
	assert.Equal(t, true, isLocalName("laptop.local."))
	assert.Equal(t, false, isLocalName("example.com"))
	assert.Equal(t, false, isLocalName("127.0.0.1"))
	assert.Equal(t, false, isLocalName(""))
}

func TestServiceFromEntry(t *testing.T) {
	svc := Service{
		InstanceID:    "01J0000000000000000000000",
		InterfaceName: "eth0",
		Addrs:         []string{"http://laptop.local:4000"},
		Attrs:         map[string]string{AttrDeviceID: "dev1"},
	}
	entry := zeroconf.NewServiceEntry("instance", "_syncslides._tcp", "local.")
	entry.Text = serviceText(svc)
	entry.Port = 4000
	entry.AddrIPv4 = []net.IP{net.IPv4(192, 168, 1, 5)}

	got := serviceFromEntry(entry)
	assert.Equal(t, svc.InstanceID, got.InstanceID)
	assert.Equal(t, "eth0", got.InterfaceName)
	assert.Equal(t, []string{"http://192.168.1.5:4000", "http://laptop.local:4000"}, got.Addrs)
	assert.Equal(t, svc.Attrs, got.Attrs)

	port, err := addrPort(svc.Addrs[0])
	assert.Equal(t, err, nil)
	assert.Equal(t, 4000, port)
}

func TestScannerHydratesAndFilters(t *testing.T) {
	network := NewLocalNetwork()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Discovery{ResponderAddr: "127.0.0.1:0", FetchTimeout: time.Second}
	other := NewAdvertiser(network, cfg, "other-device", testLogger)
	self := NewAdvertiser(network, cfg, "own-device", testLogger)

	otherCtx, stopOther := context.WithCancel(ctx)
	ad := types.PresentationAd{
		ID:        "other-ad",
		Presenter: types.Person{ID: "p2", Name: "Bob"},
		Deck:      types.Deck{ID: "d1", Title: "Intro"},
		JoinAddr:  types.JoinAddr("d1", "pres1"),
	}
	assert.Equal(t, other.Start(otherCtx, ad), nil)
	assert.Equal(t, self.Start(ctx, types.PresentationAd{ID: "own-ad"}), nil)
	assert.Equal(t, network.Advertise(ctx, Service{
		InstanceID: "unreachable",
		Addrs:      []string{"http://127.0.0.1:1"},
		Attrs:      map[string]string{AttrDeviceID: "third-device"},
	}), nil)

	scanner := NewScanner(network, NewInfoClient(time.Second, nil), cfg, "own-device", testLogger)
	events := make(chan feed.Event[types.PresentationAd], 16)
	go func() { _ = scanner.Watch(ctx, func(ev feed.Event[types.PresentationAd]) { events <- ev }) }()

	ev := receive(t, events)
	assert.Equal(t, feed.Put, ev.Kind)
	assert.Equal(t, ad, ev.Elem)

	var addr string
	network.mu.Lock()
	addr = network.services["other-ad"].Addrs[0]
	network.mu.Unlock()

	stopOther()
	ev = receive(t, events)
	assert.Equal(t, feed.Delete, ev.Kind)
	assert.Equal(t, "other-ad", ev.Elem.ID)

	// the responder goes away with the advertisement
	client := NewInfoClient(time.Second, nil)
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, err := client.GetInfo(ctx, addr)
		if err != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("responder still reachable")
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case ev = <-events:
		t.Fatalf("unexpected event %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDiffRound(t *testing.T) {
	svc := func(id, iface, addr string) Service {
		return Service{InstanceID: id, InterfaceName: iface, Addrs: []string{addr}, Attrs: map[string]string{AttrDeviceID: "d"}}
	}
	a := svc("a", "eth0", "http://10.0.0.1:1")
	aMoved := svc("a", "eth0", "http://10.0.0.1:2")
	b := svc("b", "eth0", "http://10.0.0.2:1")
	c := svc("c", "wlan0", "http://10.0.0.3:1")

	tests := []struct {
		name    string
		known   []Service
		seen    []Service
		iface   string
		updates []Update
		next    []string
	}{
		{
			name:    "first round",
			seen:    []Service{b, a},
			updates: []Update{{Found, a}, {Found, b}},
			next:    []string{"a", "b"},
		},
		{
			name:  "unchanged",
			known: []Service{a, b},
			seen:  []Service{a, b},
			next:  []string{"a", "b"},
		},
		{
			name:    "changed address",
			known:   []Service{a},
			seen:    []Service{aMoved},
			updates: []Update{{Found, aMoved}},
			next:    []string{"a"},
		},
		{
			name:    "missing from round",
			known:   []Service{a, b},
			seen:    []Service{b},
			updates: []Update{{Lost, a}},
			next:    []string{"b"},
		},
		{
			name:    "found and lost together",
			known:   []Service{a},
			seen:    []Service{b},
			updates: []Update{{Found, b}, {Lost, a}},
			next:    []string{"b"},
		},
		{
			name:    "other interface ignored",
			seen:    []Service{a, c},
			iface:   "eth0",
			updates: []Update{{Found, a}},
			next:    []string{"a"},
		},
	}
	toMap := func(services []Service) map[string]Service {
		m := map[string]Service{}
		for _, s := range services {
			m[s.InstanceID] = s
		}
		return m
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			updates, next := diffRound(toMap(tt.known), toMap(tt.seen), tt.iface)
			assert.Equal(t, tt.updates, updates)
			assert.Equal(t, tt.next, slices.Sorted(maps.Keys(next)))
		})
	}
}
