package discovery

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/mikhailv/syncslides/syncslides/internal/metrics"
	"github.com/mikhailv/syncslides/syncslides/internal/types"
)

const GetInfoProcedure = "/syncslides.discovery.v1.LivePresentationService/GetInfo"

// InfoClient fetches presentation details from advertisers.
type InfoClient struct {
	httpClient *http.Client
}

func NewInfoClient(timeout time.Duration, dialer *MDNSDialer) *InfoClient {
	transport := http.DefaultTransport.(*http.Transport).Clone() //nolint:errcheck // default transport type is fixed
	if dialer != nil {
		transport.DialContext = dialer.DialContext
	}
	return &InfoClient{&http.Client{Timeout: timeout, Transport: transport}}
}

func (c *InfoClient) GetInfo(ctx context.Context, baseURL string) (types.PresentationInfo, error) {
	defer metrics.TrackDuration("info_client.get_info")()
	client := connect.NewClient[emptypb.Empty, types.PresentationInfo](
		c.httpClient,
		strings.TrimRight(baseURL, "/")+GetInfoProcedure,
		connect.WithCodec(jsonCodec{}),
	)
	resp, err := client.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{}))
	if err != nil {
		metrics.TrackStatus("info_client.get_info", connect.CodeOf(err).String())
		return types.PresentationInfo{}, fmt.Errorf("failed to get info from %s: %w", baseURL, err)
	}
	metrics.TrackStatus("info_client.get_info", "ok")
	return *resp.Msg, nil
}

// NewInfoHandler serves info over the detail procedure, it mounts at the returned path.
func NewInfoHandler(info types.PresentationInfo) (string, http.Handler) {
	return GetInfoProcedure, connect.NewUnaryHandler(
		GetInfoProcedure,
		func(context.Context, *connect.Request[emptypb.Empty]) (*connect.Response[types.PresentationInfo], error) {
			return connect.NewResponse(&info), nil
		},
		connect.WithCodec(jsonCodec{}),
	)
}
