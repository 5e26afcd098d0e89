package devices

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/vango-go/vai-jarvis/pkg/core"
	"github.com/vango-go/vai-jarvis/pkg/core/types"
)

// DefaultIPLocateURL answers with the caller's approximate position.
const DefaultIPLocateURL = "http://ip-api.com/json"

// IPGeolocator derives a coarse position from the host's public IP.
type IPGeolocator struct {
	URL    string
	Client *http.Client
}

type ipAPIResponse struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

func (g *IPGeolocator) Locate(ctx context.Context) (*types.Location, error) {
	url := g.URL
	if url == "" {
		url = DefaultIPLocateURL
	}
	client := g.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, core.Wrap(core.ErrDeviceUnavailable, "ip geolocation", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, core.NewRemoteError(resp.StatusCode, fmt.Sprintf("ip geolocation: %s", resp.Status), nil)
	}

	var body ipAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, core.Wrap(core.ErrMalformedPayload, "decode ip geolocation", err)
	}
	if body.Status != "success" {
		return nil, core.NewError(core.ErrDeviceUnavailable, "ip geolocation failed: "+body.Message)
	}
	return &types.Location{Latitude: body.Lat, Longitude: body.Lon}, nil
}

// StaticGeolocator always reports the same position. A nil Location
// reports the position as unknown.
type StaticGeolocator struct {
	Location *types.Location
}

func (g StaticGeolocator) Locate(context.Context) (*types.Location, error) {
	if g.Location == nil {
		return nil, core.NewError(core.ErrDeviceUnavailable, "no position configured")
	}
	loc := *g.Location
	return &loc, nil
}
