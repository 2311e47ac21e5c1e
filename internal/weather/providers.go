package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultOpenMeteoURL = "https://api.open-meteo.com/v1/forecast"
	defaultMarineURL    = "https://marine-api.open-meteo.com/v1/marine"
	defaultWttrURL      = "https://wttr.in"

	openMeteoTimeout = 5 * time.Second
	marineTimeout    = 5 * time.Second
	wttrTimeout      = 4 * time.Second
)

// fetchOpenMeteo retrieves current weather and marine conditions from the
// primary provider concurrently and unions the fields. A marine failure is
// tolerated; a current-weather failure fails the whole call.
func (c *Coordinator) fetchOpenMeteo(ctx context.Context, lat, lon float64) (map[string]any, error) {
	fields := make(map[string]any)
	var marine map[string]any

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		current, err := c.fetchOpenMeteoCurrent(gctx, lat, lon)
		if err != nil {
			return err
		}
		for k, v := range current {
			fields[k] = v
		}
		return nil
	})
	g.Go(func() error {
		// Marine data only exists near coastlines; failures are expected.
		m, err := c.fetchOpenMeteoMarine(gctx, lat, lon)
		if err == nil {
			marine = m
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for k, v := range marine {
		fields[k] = v
	}
	return fields, nil
}

func (c *Coordinator) fetchOpenMeteoCurrent(ctx context.Context, lat, lon float64) (map[string]any, error) {
	params := url.Values{
		"latitude":       {strconv.FormatFloat(lat, 'f', -1, 64)},
		"longitude":      {strconv.FormatFloat(lon, 'f', -1, 64)},
		"current":        {"temperature_2m,relative_humidity_2m,apparent_temperature,precipitation,weather_code,wind_speed_10m,wind_direction_10m,wind_gusts_10m,pressure_msl,cloud_cover"},
		"windspeed_unit": {"ms"},
		"timezone":       {"UTC"},
	}

	var resp struct {
		Current map[string]any `json:"current"`
	}
	if err := c.getJSON(ctx, c.openMeteoURL+"?"+params.Encode(), openMeteoTimeout, &resp); err != nil {
		return nil, fmt.Errorf("open-meteo current: %w", err)
	}

	return map[string]any{
		"temperature":    resp.Current["temperature_2m"],
		"humidity":       resp.Current["relative_humidity_2m"],
		"apparent_temp":  resp.Current["apparent_temperature"],
		"precipitation":  resp.Current["precipitation"],
		"code":           resp.Current["weather_code"],
		"wind_speed":     resp.Current["wind_speed_10m"],
		"wind_direction": resp.Current["wind_direction_10m"],
		"wind_gusts":     resp.Current["wind_gusts_10m"],
		"pressure_msl":   resp.Current["pressure_msl"],
		"cloud_cover":    resp.Current["cloud_cover"],
	}, nil
}

func (c *Coordinator) fetchOpenMeteoMarine(ctx context.Context, lat, lon float64) (map[string]any, error) {
	params := url.Values{
		"latitude":  {strconv.FormatFloat(lat, 'f', -1, 64)},
		"longitude": {strconv.FormatFloat(lon, 'f', -1, 64)},
		"current":   {"wave_height,wave_direction,wave_period"},
		"timezone":  {"UTC"},
	}

	var resp struct {
		Current map[string]any `json:"current"`
	}
	if err := c.getJSON(ctx, c.marineURL+"?"+params.Encode(), marineTimeout, &resp); err != nil {
		return nil, fmt.Errorf("open-meteo marine: %w", err)
	}

	return map[string]any{
		"marine_wave_height":    resp.Current["wave_height"],
		"marine_wave_direction": resp.Current["wave_direction"],
		"marine_wave_period":    resp.Current["wave_period"],
	}, nil
}

// fetchWttr retrieves current conditions from the fallback provider,
// converting wind speed from km/h to m/s.
func (c *Coordinator) fetchWttr(ctx context.Context, lat, lon float64) (map[string]any, error) {
	var resp struct {
		CurrentCondition []struct {
			TempC         string `json:"temp_C"`
			Humidity      string `json:"humidity"`
			FeelsLikeC    string `json:"FeelsLikeC"`
			PrecipMM      string `json:"precipMM"`
			WindspeedKmph string `json:"windspeedKmph"`
			WinddirDegree string `json:"winddirDegree"`
			Pressure      string `json:"pressure"`
			Cloudcover    string `json:"cloudcover"`
		} `json:"current_condition"`
	}

	target := fmt.Sprintf("%s/%f,%f?format=j1", c.wttrURL, lat, lon)
	if err := c.getJSON(ctx, target, wttrTimeout, &resp); err != nil {
		return nil, fmt.Errorf("wttr.in: %w", err)
	}
	if len(resp.CurrentCondition) == 0 {
		return nil, fmt.Errorf("wttr.in: empty current_condition")
	}

	cur := resp.CurrentCondition[0]
	fields := make(map[string]any)
	setNum := func(key, raw string, convert func(float64) float64) {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return
		}
		if convert != nil {
			v = convert(v)
		}
		fields[key] = v
	}

	setNum("temperature", cur.TempC, nil)
	setNum("humidity", cur.Humidity, nil)
	setNum("apparent_temp", cur.FeelsLikeC, nil)
	setNum("precipitation", cur.PrecipMM, nil)
	setNum("wind_speed", cur.WindspeedKmph, func(kmh float64) float64 { return kmh * 1000 / 3600 })
	setNum("wind_direction", cur.WinddirDegree, nil)
	setNum("pressure_msl", cur.Pressure, nil)
	setNum("cloud_cover", cur.Cloudcover, nil)
	return fields, nil
}

func (c *Coordinator) getJSON(ctx context.Context, target string, timeout time.Duration, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
