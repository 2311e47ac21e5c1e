package ipintel

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"github.com/hoarderd/hoarderd/internal/kv"
)

const successBody = `{"status":"success","country":"Germany","regionName":"Bavaria",
"city":"Munich","zip":"80331","lat":48.1374,"lon":11.5755,"timezone":"Europe/Berlin",
"isp":"Telekom","org":"Deutsche Telekom AG","as":"AS3320","proxy":false,"hosting":true,
"query":"203.0.113.9"}`

func newClient(t *testing.T, handler http.HandlerFunc) (*Client, *atomic.Int64) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	kvc, err := kv.New(context.Background(), mr.Addr(), "", 0)
	if err != nil {
		t.Fatalf("kv.New: %v", err)
	}
	t.Cleanup(func() { _ = kvc.Close() })

	calls := &atomic.Int64{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c := New(kvc, zap.NewNop().Sugar())
	c.endpoint = srv.URL
	return c, calls
}

func TestLookupShapesResponse(t *testing.T) {
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, successBody)
	})

	intel := c.Lookup(context.Background(), "203.0.113.9")
	if intel == nil {
		t.Fatal("Lookup returned nil for a success response")
	}
	if intel.Geolocation.Country != "Germany" || intel.Geolocation.Region != "Bavaria" {
		t.Errorf("geolocation = %+v", intel.Geolocation)
	}
	if intel.NetworkProvider.ASN != "AS3320" {
		t.Errorf("asn = %q", intel.NetworkProvider.ASN)
	}
	if intel.Security.IsProxyOrVPN || !intel.Security.IsHostingProvider {
		t.Errorf("security = %+v", intel.Security)
	}

	m := intel.AsMap()
	geo, ok := m["geolocation"].(map[string]any)
	if !ok || geo["city"] != "Munich" {
		t.Errorf("AsMap geolocation = %v", m["geolocation"])
	}
}

func TestLookupServesSecondCallFromCache(t *testing.T) {
	c, calls := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, successBody)
	})
	ctx := context.Background()

	if c.Lookup(ctx, "203.0.113.9") == nil {
		t.Fatal("first lookup failed")
	}
	intel := c.Lookup(ctx, "203.0.113.9")
	if intel == nil {
		t.Fatal("second lookup failed")
	}
	if calls.Load() != 1 {
		t.Errorf("provider calls = %d, want 1", calls.Load())
	}
	if intel.Geolocation.City != "Munich" {
		t.Errorf("cached city = %q", intel.Geolocation.City)
	}
}

func TestLookupNilOnFailStatus(t *testing.T) {
	c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"fail","message":"private range","query":"192.168.1.1"}`)
	})

	if intel := c.Lookup(context.Background(), "192.168.1.1"); intel != nil {
		t.Errorf("Lookup = %+v, want nil for fail status", intel)
	}
}

func TestLookupNilOnEmptyIP(t *testing.T) {
	c, calls := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, successBody)
	})

	if intel := c.Lookup(context.Background(), ""); intel != nil {
		t.Errorf("Lookup(\"\") = %+v, want nil", intel)
	}
	if calls.Load() != 0 {
		t.Errorf("provider called for empty IP")
	}
}

func TestLookupBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	c, calls := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if intel := c.Lookup(ctx, "203.0.113.9"); intel != nil {
			t.Fatalf("lookup %d succeeded against failing provider", i)
		}
	}
	got := calls.Load()

	// Breaker is open now; further lookups short-circuit.
	c.Lookup(ctx, "203.0.113.9")
	if calls.Load() != got {
		t.Errorf("provider called while breaker open")
	}
	if st := c.BreakerStatus(); st.State != "open" {
		t.Errorf("breaker state = %q, want open", st.State)
	}
}

func TestNilIntelAsMap(t *testing.T) {
	var intel *Intel
	if m := intel.AsMap(); m != nil {
		t.Errorf("nil AsMap = %v", m)
	}
}
