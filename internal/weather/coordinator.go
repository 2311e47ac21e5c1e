// Package weather implements the enrichment coordinator: per-device
// movement/expiry gating, a shared geo-bucketed file cache, the global daily
// quota, and a dual-provider fetch behind circuit breakers.
package weather

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/hoarderd/hoarderd/internal/breaker"
	"github.com/hoarderd/hoarderd/internal/kv"
	"github.com/hoarderd/hoarderd/internal/metrics"
	"github.com/hoarderd/hoarderd/internal/timefmt"
)

const (
	movementThresholdKM = 1.0
	expirationSeconds   = 3600
	cooldownWindow      = 60 * time.Second
	cooldownEntries     = 4096
)

// Coordinator decides when a device needs fresh weather data and attaches the
// resulting fields to the raw payload.
type Coordinator struct {
	kvc        *kv.Client
	cache      *FileCache
	primary    *breaker.Breaker
	fallback   *breaker.Breaker
	cooldown   *expirable.LRU[string, time.Time]
	dailyQuota int64
	httpClient *http.Client
	logger     *zap.SugaredLogger
	now        func() time.Time

	openMeteoURL string
	marineURL    string
	wttrURL      string
}

// NewCoordinator wires the coordinator with its production breaker settings.
func NewCoordinator(kvc *kv.Client, cache *FileCache, dailyQuota int64, logger *zap.SugaredLogger) *Coordinator {
	return &Coordinator{
		kvc:          kvc,
		cache:        cache,
		primary:      breaker.New("open-meteo", 3, 30*time.Second),
		fallback:     breaker.New("wttr.in", 2, 20*time.Second),
		cooldown:     expirable.NewLRU[string, time.Time](cooldownEntries, nil, cooldownWindow),
		dailyQuota:   dailyQuota,
		httpClient:   &http.Client{},
		logger:       logger,
		now:          time.Now,
		openMeteoURL: defaultOpenMeteoURL,
		marineURL:    defaultMarineURL,
		wttrURL:      defaultWttrURL,
	}
}

// SetProviderURLs overrides the provider endpoints, for self-hosted mirrors
// and tests.
func (c *Coordinator) SetProviderURLs(openMeteo, marine, wttr string) {
	c.openMeteoURL = openMeteo
	c.marineURL = marine
	c.wttrURL = wttr
}

// BreakerStatus reports both provider breakers for health output.
func (c *Coordinator) BreakerStatus() []breaker.Status {
	return []breaker.Status{c.primary.Status(), c.fallback.Status()}
}

// Enrich attaches weather fields to raw when a re-fetch is warranted for this
// device. All faults degrade to "no weather this record"; they never propagate.
func (c *Coordinator) Enrich(ctx context.Context, deviceID string, raw map[string]any) {
	lat, latOK := coordFloat(raw["y"])
	lon, lonOK := coordFloat(raw["x"])
	if !latOK || !lonOK {
		return
	}

	if _, held := c.cooldown.Get(deviceID); held {
		return
	}
	if !c.needsRefetch(ctx, deviceID, lat, lon) {
		return
	}

	now := c.now().UTC()

	if fields, cachedAt, ok := c.cache.Find(lat, lon); ok {
		metrics.WeatherCacheHits.Inc()
		c.attach(raw, fields, lat, lon, cachedAt)
		c.cooldown.Add(deviceID, now)
		return
	}

	if !c.quotaAvailable(ctx, now) {
		return
	}

	fields, provider := c.fetch(ctx, lat, lon)
	if fields == nil {
		return
	}
	c.logger.Debugf("weather fetched for %s via %s", deviceID, provider)

	fetchedAt := timefmt.Format(now)
	if err := c.kvc.IncrQuota(ctx, now.Format("2006-01-02")); err != nil {
		c.logger.Warnf("weather quota increment failed: %v", err)
	}
	if err := c.cache.Save(lat, lon, fields, fetchedAt); err != nil {
		c.logger.Warnf("weather cache write failed: %v", err)
	}
	if err := c.kvc.SetPosition(ctx, deviceID, kv.DevicePosition{
		Lat: lat, Lon: lon, LastWeatherUpdate: fetchedAt,
	}); err != nil {
		c.logger.Warnf("device position update failed: %v", err)
	}

	c.cooldown.Add(deviceID, now)
	c.attach(raw, fields, lat, lon, fetchedAt)
}

// needsRefetch applies the gate: no prior position, stale beyond an hour, or
// moved more than a kilometer.
func (c *Coordinator) needsRefetch(ctx context.Context, deviceID string, lat, lon float64) bool {
	pos, err := c.kvc.GetPosition(ctx, deviceID)
	if err != nil {
		c.logger.Debugf("position cache unavailable, forcing weather fetch: %v", err)
		return true
	}
	if pos == nil {
		return true
	}

	lastUpdate, err := timefmt.Parse(pos.LastWeatherUpdate)
	if err != nil {
		return true
	}
	if c.now().UTC().Sub(lastUpdate).Seconds() > expirationSeconds {
		return true
	}
	return distanceKM(lat, lon, pos.Lat, pos.Lon) > movementThresholdKM
}

// quotaAvailable is conservative: an unreachable quota store counts as
// exhausted so a KV outage can't blow the daily ceiling.
func (c *Coordinator) quotaAvailable(ctx context.Context, now time.Time) bool {
	used, err := c.kvc.QuotaUsed(ctx, now.Format("2006-01-02"))
	if err != nil {
		c.logger.Warnf("weather quota unavailable, skipping fetch: %v", err)
		return false
	}
	if used >= c.dailyQuota {
		metrics.WeatherFetches.WithLabelValues("none", "quota_exhausted").Inc()
		return false
	}
	return true
}

func (c *Coordinator) fetch(ctx context.Context, lat, lon float64) (map[string]any, string) {
	res, err := c.primary.Execute(func() (any, error) {
		return c.fetchOpenMeteo(ctx, lat, lon)
	})
	if err == nil {
		metrics.WeatherFetches.WithLabelValues("open-meteo", "ok").Inc()
		return res.(map[string]any), "open-meteo"
	}
	metrics.WeatherFetches.WithLabelValues("open-meteo", "error").Inc()
	c.logger.Debugf("primary weather provider failed: %v", err)

	res, err = c.fallback.Execute(func() (any, error) {
		return c.fetchWttr(ctx, lat, lon)
	})
	if err == nil {
		metrics.WeatherFetches.WithLabelValues("wttr.in", "ok").Inc()
		return res.(map[string]any), "wttr.in"
	}
	metrics.WeatherFetches.WithLabelValues("wttr.in", "error").Inc()
	c.logger.Debugf("fallback weather provider failed: %v", err)
	return nil, ""
}

func (c *Coordinator) attach(raw, fields map[string]any, lat, lon float64, fetchedAt string) {
	for k, v := range fields {
		if v != nil {
			raw[k] = v
		}
	}
	raw["weather_fetch_lat"] = lat
	raw["weather_fetch_lon"] = lon
	raw["weather_fetch_ts"] = fetchedAt
}

// coordFloat accepts the string-decimal coordinates of the compact wire
// format as well as already-numeric values.
func coordFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case string:
		if n == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}
