// Package geo provides best-effort IP geolocation for analytics
// enrichment. Lookups never fail: any transport, decode or service error
// yields an empty Location, keeping the ingestion path free of enrichment
// failures.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/fromscratch/from-scratch/pkg/fromscratch/metrics"
)

// Location is the coarse geolocation of an IP address. The zero value
// means "unknown".
type Location struct {
	Country  string
	City     string
	Region   string
	Timezone string
}

// Client looks up the coarse location of an IP address. Implementations
// must swallow every internal error and return the zero Location instead
// of propagating it.
type Client interface {
	Lookup(ctx context.Context, ip string) Location
}

// Noop is a Client that never knows anything. Used when geolocation is
// disabled.
type Noop struct{}

func (Noop) Lookup(context.Context, string) Location { return Location{} }

// DefaultEndpoint is the plain-HTTP lookup service queried by HTTPClient.
const DefaultEndpoint = "http://ip-api.com/json"

// HTTPClient resolves locations through an ip-api.com style JSON endpoint.
type HTTPClient struct {
	endpoint string
	client   *http.Client
}

// NewHTTPClient creates a geolocation client for the given endpoint;
// endpoint "" means DefaultEndpoint.
func NewHTTPClient(endpoint string) *HTTPClient {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	tr := &http.Transport{
		MaxIdleConns:    10,
		IdleConnTimeout: 90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	return &HTTPClient{
		endpoint: endpoint,
		client: &http.Client{
			Timeout:   5 * time.Second,
			Transport: tr,
		},
	}
}

type lookupResponse struct {
	Status     string `json:"status"`
	Country    string `json:"country"`
	City       string `json:"city"`
	RegionName string `json:"regionName"`
	Timezone   string `json:"timezone"`
}

// Lookup queries the endpoint for the IP's location. Any failure is logged
// at debug level and reported as an empty Location.
func (c *HTTPClient) Lookup(ctx context.Context, ip string) Location {
	if ip == "" {
		return Location{}
	}

	u := fmt.Sprintf("%s/%s?fields=status,country,city,regionName,timezone", c.endpoint, url.PathEscape(ip))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Location{}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.GeoLookupFailures.Inc()
		slog.Debug("geolocation lookup failed", "ip", ip, "error", err)
		return Location{}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.GeoLookupFailures.Inc()
		slog.Debug("geolocation lookup returned non-OK status", "ip", ip, "status", resp.StatusCode)
		return Location{}
	}

	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		metrics.GeoLookupFailures.Inc()
		slog.Debug("geolocation response decode failed", "ip", ip, "error", err)
		return Location{}
	}

	if body.Status != "success" {
		return Location{}
	}

	return Location{
		Country:  body.Country,
		City:     body.City,
		Region:   body.RegionName,
		Timezone: body.Timezone,
	}
}
