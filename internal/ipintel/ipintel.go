// Package ipintel looks up geolocation, provider, and security facts for a
// client IP. Lookups hit ip-api.com behind a circuit breaker and are cached in
// the shared KV store for a day. Every fault degrades to "no intel".
package ipintel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hoarderd/hoarderd/internal/breaker"
	"github.com/hoarderd/hoarderd/internal/kv"
	"github.com/hoarderd/hoarderd/internal/metrics"
)

const (
	defaultEndpoint = "http://ip-api.com/json"
	queryFields     = "status,message,country,regionName,city,zip,lat,lon,timezone,isp,org,as,proxy,hosting,query"
	lookupTimeout   = 3 * time.Second
)

// Intel is the normalized lookup result attached to a record's state.
type Intel struct {
	Geolocation struct {
		Country  string  `json:"country"`
		Region   string  `json:"region"`
		City     string  `json:"city"`
		Zip      string  `json:"zip"`
		Lat      float64 `json:"lat"`
		Lon      float64 `json:"lon"`
		Timezone string  `json:"timezone"`
	} `json:"geolocation"`
	NetworkProvider struct {
		ISP          string `json:"isp"`
		Organization string `json:"organization"`
		ASN          string `json:"asn"`
	} `json:"network_provider"`
	Security struct {
		IsProxyOrVPN      bool `json:"is_proxy_or_vpn"`
		IsHostingProvider bool `json:"is_hosting_provider"`
	} `json:"security"`
}

// Client performs cached IP lookups.
type Client struct {
	kvc        *kv.Client
	brk        *breaker.Breaker
	httpClient *http.Client
	logger     *zap.SugaredLogger

	endpoint string
}

func New(kvc *kv.Client, logger *zap.SugaredLogger) *Client {
	return &Client{
		kvc:        kvc,
		brk:        breaker.New("ip-api.com", 5, 60*time.Second),
		httpClient: &http.Client{},
		logger:     logger,
		endpoint:   defaultEndpoint,
	}
}

// BreakerStatus reports the provider breaker for health output.
func (c *Client) BreakerStatus() breaker.Status {
	return c.brk.Status()
}

// Lookup returns intel for an IP, or nil when the IP is empty, the provider
// is unavailable, or the response is not a success.
func (c *Client) Lookup(ctx context.Context, ip string) *Intel {
	if ip == "" {
		return nil
	}

	cached, err := c.kvc.GetIPIntel(ctx, ip)
	if err != nil {
		c.logger.Debugf("ip intel cache read failed: %v", err)
	} else if cached != nil {
		var intel Intel
		if err := json.Unmarshal(cached, &intel); err == nil {
			return &intel
		}
	}

	res, err := c.brk.Execute(func() (any, error) {
		return c.fetch(ctx, ip)
	})
	if err != nil {
		metrics.IPLookups.WithLabelValues("error").Inc()
		c.logger.Debugf("ip intel lookup failed for %s: %v", ip, err)
		return nil
	}
	intel := res.(*Intel)
	metrics.IPLookups.WithLabelValues("ok").Inc()

	if raw, err := json.Marshal(intel); err == nil {
		if err := c.kvc.SetIPIntel(ctx, ip, raw); err != nil {
			c.logger.Debugf("ip intel cache write failed: %v", err)
		}
	}
	return intel
}

func (c *Client) fetch(ctx context.Context, ip string) (*Intel, error) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	target := fmt.Sprintf("%s/%s?fields=%s", c.endpoint, ip, queryFields)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ip-api.com: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Status     string  `json:"status"`
		Message    string  `json:"message"`
		Country    string  `json:"country"`
		RegionName string  `json:"regionName"`
		City       string  `json:"city"`
		Zip        string  `json:"zip"`
		Lat        float64 `json:"lat"`
		Lon        float64 `json:"lon"`
		Timezone   string  `json:"timezone"`
		ISP        string  `json:"isp"`
		Org        string  `json:"org"`
		AS         string  `json:"as"`
		Proxy      bool    `json:"proxy"`
		Hosting    bool    `json:"hosting"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("ip-api.com: decoding response: %w", err)
	}
	if body.Status != "success" {
		return nil, fmt.Errorf("ip-api.com: status %q: %s", body.Status, body.Message)
	}

	intel := &Intel{}
	intel.Geolocation.Country = body.Country
	intel.Geolocation.Region = body.RegionName
	intel.Geolocation.City = body.City
	intel.Geolocation.Zip = body.Zip
	intel.Geolocation.Lat = body.Lat
	intel.Geolocation.Lon = body.Lon
	intel.Geolocation.Timezone = body.Timezone
	intel.NetworkProvider.ISP = body.ISP
	intel.NetworkProvider.Organization = body.Org
	intel.NetworkProvider.ASN = body.AS
	intel.Security.IsProxyOrVPN = body.Proxy
	intel.Security.IsHostingProvider = body.Hosting
	return intel, nil
}

// AsMap renders intel as the nested map shape merged into plain state.
func (i *Intel) AsMap() map[string]any {
	if i == nil {
		return nil
	}
	return map[string]any{
		"geolocation": map[string]any{
			"country":  i.Geolocation.Country,
			"region":   i.Geolocation.Region,
			"city":     i.Geolocation.City,
			"zip":      i.Geolocation.Zip,
			"lat":      i.Geolocation.Lat,
			"lon":      i.Geolocation.Lon,
			"timezone": i.Geolocation.Timezone,
		},
		"network_provider": map[string]any{
			"isp":          i.NetworkProvider.ISP,
			"organization": i.NetworkProvider.Organization,
			"asn":          i.NetworkProvider.ASN,
		},
		"security": map[string]any{
			"is_proxy_or_vpn":     i.Security.IsProxyOrVPN,
			"is_hosting_provider": i.Security.IsHostingProvider,
		},
	}
}
