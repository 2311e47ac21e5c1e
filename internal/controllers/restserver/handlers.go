package restserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/hoarderd/hoarderd/internal/ingest"
	"github.com/hoarderd/hoarderd/internal/readview"
	"github.com/hoarderd/hoarderd/internal/timefmt"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	defaultDeviceLimit  = 20
)

// Handlers contains all HTTP handlers for the REST server.
type Handlers struct {
	controller *Controller
	now        func() time.Time
}

// NewHandlers creates a new handlers instance.
func NewHandlers(ctrl *Controller) *Handlers {
	return &Handlers{controller: ctrl, now: time.Now}
}

type notifyBody struct {
	Records []ingest.Record `json:"records"`
}

// Notify is the intake webhook: it validates the envelope and hands the batch
// to the broker. Processing happens on the worker pool.
func (h *Handlers) Notify(w http.ResponseWriter, r *http.Request) {
	var body notifyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}

	if len(body.Records) == 0 {
		h.writeJSON(w, http.StatusAccepted, map[string]any{
			"status":  "accepted",
			"message": "No records to process.",
		})
		return
	}

	if err := h.controller.queue.EnqueueBatch(r.Context(), body.Records); err != nil {
		h.controller.logger.Errorf("failed to queue batch: %v", err)
		h.writeError(w, http.StatusServiceUnavailable, "failed to queue batch for processing")
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]any{
		"status":         "accepted",
		"records_queued": len(body.Records),
	})
}

// GetLatest serves the rendered latest projection for one device.
func (h *Handlers) GetLatest(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["device_id"]

	latest, err := h.controller.store.Latest(r.Context(), deviceID)
	if err != nil {
		h.controller.logger.Errorf("latest lookup failed for %s: %v", deviceID, err)
		h.writeError(w, http.StatusInternalServerError, "failed to retrieve latest data")
		return
	}
	if latest == nil {
		h.writeError(w, http.StatusNotFound, fmt.Sprintf("no state found for device %q", deviceID))
		return
	}

	base := baseURL(r)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"request": h.requestInfo(r),
		"navigation": map[string]string{
			"self":    base + "/data/latest/" + url.PathEscape(deviceID),
			"history": base + "/data/history?device_id=" + url.QueryEscape(deviceID),
			"root":    base + "/",
		},
		"data": readview.Latest(latest.Freshness, h.now().UTC()),
	})
}

// GetHistory serves one page of per-event deltas.
func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	deviceID := q.Get("device_id")

	limit := defaultHistoryLimit
	if rawLimit := q.Get("limit"); rawLimit != "" {
		n, err := strconv.Atoi(rawLimit)
		if err != nil || n < 1 || n > maxHistoryLimit {
			h.writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be 1..%d", maxHistoryLimit))
			return
		}
		limit = n
	}

	cursor, err := readview.ParseCursor(q.Get("cursor"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid cursor format")
		return
	}

	rows, err := h.controller.store.History(r.Context(), deviceID, limit, cursor)
	if err != nil {
		h.controller.logger.Errorf("history query failed: %v", err)
		h.writeError(w, http.StatusInternalServerError, "failed to retrieve history")
		return
	}
	page := readview.History(rows, limit)

	base := baseURL(r)
	baseParams := url.Values{}
	baseParams.Set("limit", strconv.Itoa(limit))
	if deviceID != "" {
		baseParams.Set("device_id", deviceID)
	}

	selfParams := cloneValues(baseParams)
	if raw := q.Get("cursor"); raw != "" {
		selfParams.Set("cursor", raw)
	}
	navigation := map[string]string{
		"self": base + "/data/history?" + selfParams.Encode(),
		"root": base + "/",
	}
	if page.Pagination.NextCursor != nil {
		nextParams := cloneValues(baseParams)
		nextParams.Set("cursor", page.Pagination.NextCursor.Raw)
		navigation["next_page"] = base + "/data/history?" + nextParams.Encode()
	}
	if q.Get("cursor") != "" {
		navigation["first_page"] = base + "/data/history?" + baseParams.Encode()
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"request":    h.requestInfo(r),
		"navigation": navigation,
		"pagination": page.Pagination,
		"data":       page.Entries,
	})
}

// GetDevices lists recently active devices with aggregate counters.
func (h *Handlers) GetDevices(w http.ResponseWriter, r *http.Request) {
	limit := defaultDeviceLimit
	if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
		if n, err := strconv.Atoi(rawLimit); err == nil && n > 0 {
			limit = n
		}
	}

	devices, err := h.controller.store.RecentDevices(r.Context(), limit)
	if err != nil {
		h.controller.logger.Errorf("device listing failed: %v", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list devices")
		return
	}

	base := baseURL(r)
	out := make([]map[string]any, 0, len(devices))
	for _, d := range devices {
		out = append(out, map[string]any{
			"device_id":       d.DeviceID,
			"last_updated_ts": d.LastUpdatedTS,
			"total_records":   d.TotalRecords,
			"total_bytes":     d.TotalBytes,
			"first_seen_ts":   d.FirstSeenTS,
			"links": map[string]string{
				"latest":  base + "/data/latest/" + url.PathEscape(d.DeviceID),
				"history": base + "/data/history?device_id=" + url.QueryEscape(d.DeviceID),
			},
		})
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"request":    h.requestInfo(r),
		"navigation": map[string]string{"self": base + "/data/devices", "root": base + "/"},
		"data":       out,
	})
}

// Root serves the server summary: recent devices, endpoint discovery, and
// health of the external collaborators.
func (h *Handlers) Root(w http.ResponseWriter, r *http.Request) {
	base := baseURL(r)
	ctx := r.Context()

	devices, err := h.controller.store.RecentDevices(ctx, 10)
	if err != nil {
		h.controller.logger.Warnf("recent devices unavailable for root view: %v", err)
	}
	recent := make([]map[string]any, 0, len(devices))
	for _, d := range devices {
		recent = append(recent, map[string]any{
			"device_id":       d.DeviceID,
			"last_updated_ts": d.LastUpdatedTS,
			"links": map[string]string{
				"latest":  base + "/data/latest/" + url.PathEscape(d.DeviceID),
				"history": base + "/data/history?device_id=" + url.QueryEscape(d.DeviceID),
			},
		})
	}

	health := map[string]any{}
	if h.controller.weather != nil {
		health["weather_breakers"] = h.controller.weather.BreakerStatus()
	}
	if h.controller.intel != nil {
		health["ip_intel_breaker"] = h.controller.intel.BreakerStatus()
	}
	if h.controller.kvc != nil {
		used, err := h.controller.kvc.QuotaUsed(ctx, h.now().UTC().Format("2006-01-02"))
		if err == nil {
			health["weather_quota_used_today"] = used
		}
	}
	if size, err := h.controller.store.SizeBytes(ctx); err == nil {
		health["store_size_bytes"] = size
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"request": h.requestInfo(r),
		"server":  "hoarderd",
		"status":  "online",
		"health":  health,
		"recently_processed_devices": recent,
		"api_endpoints": map[string]any{
			"internal": []string{base + "/api/internal/notify"},
			"data": []string{
				base + "/data/latest/{device_id}",
				base + "/data/history",
				base + "/data/devices",
			},
			"observability": []string{base + "/metrics"},
		},
	})
}

func (h *Handlers) requestInfo(r *http.Request) map[string]string {
	return map[string]string{
		"id":        requestID(r),
		"timestamp": timefmt.Format(h.now().UTC()),
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.controller.logger.Errorf("response encoding failed: %v", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || r.URL.Scheme == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
