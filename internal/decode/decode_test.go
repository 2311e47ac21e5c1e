package decode

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestGeohash(t *testing.T) {
	tests := []struct {
		name      string
		hash      string
		wantLat   float64
		wantLon   float64
		wantPrec  float64
		wantError bool
	}{
		{
			name:     "munich area",
			hash:     "u281z",
			wantLat:  48.16,
			wantLon:  11.58,
			wantPrec: 4900,
		},
		{
			name:     "ezs42 reference point",
			hash:     "ezs42",
			wantLat:  42.605,
			wantLon:  -5.603,
			wantPrec: 4900,
		},
		{
			name:     "single character",
			hash:     "u",
			wantLat:  47.8125,
			wantLon:  11.25,
			wantPrec: 5000000,
		},
		{
			name:      "empty",
			hash:      "",
			wantError: true,
		},
		{
			name:      "too long",
			hash:      "u281zu281zu28",
			wantError: true,
		},
		{
			name:      "invalid character",
			hash:      "u28a",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lat, lon, prec, err := Geohash(tt.hash)
			if tt.wantError {
				if err == nil {
					t.Fatalf("Geohash(%q) succeeded, want error", tt.hash)
				}
				return
			}
			if err != nil {
				t.Fatalf("Geohash(%q): %v", tt.hash, err)
			}
			if math.Abs(lat-tt.wantLat) > 0.05 || math.Abs(lon-tt.wantLon) > 0.05 {
				t.Errorf("Geohash(%q) = (%f, %f), want (~%f, ~%f)", tt.hash, lat, lon, tt.wantLat, tt.wantLon)
			}
			if prec != tt.wantPrec {
				t.Errorf("Geohash(%q) precision = %f, want %f", tt.hash, prec, tt.wantPrec)
			}
		})
	}
}

func TestBase62(t *testing.T) {
	tests := []struct {
		in        string
		want      string
		wantError bool
	}{
		{in: "0", want: "0"},
		{in: "A", want: "10"},
		{in: "a", want: "36"},
		{in: "10", want: "62"},
		{in: "ZZ", want: "2201"},
		{in: "", wantError: true},
		{in: "ab!", wantError: true},
	}

	for _, tt := range tests {
		got, err := Base62(tt.in)
		if tt.wantError {
			if err == nil {
				t.Errorf("Base62(%q) succeeded, want error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("Base62(%q): %v", tt.in, err)
			continue
		}
		if got.String() != tt.want {
			t.Errorf("Base62(%q) = %s, want %s", tt.in, got.String(), tt.want)
		}
	}
}

func TestBSSID(t *testing.T) {
	tests := []struct {
		name      string
		in        string
		want      string
		wantError bool
	}{
		{
			// base64 of bytes {0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
			name: "valid",
			in:   "ABEiM0RV",
			want: "00:11:22:33:44:55",
		},
		{
			name: "valid lowercase render",
			in:   "q83vASNF",
			want: "ab:cd:ef:01:23:45",
		},
		{
			// 9 chars is not a multiple of 4; repaired with padding the
			// trailing group still carries no full byte
			name:      "truncated input",
			in:        "ABEiM0RVq",
			wantError: true,
		},
		{name: "empty", in: "", wantError: true},
		{name: "not base64", in: "!!!", wantError: true},
		{name: "wrong length", in: "AAEC", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BSSID(tt.in)
			if tt.wantError {
				if err == nil {
					t.Fatalf("BSSID(%q) = %q, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("BSSID(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("BSSID(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestVendorDB(t *testing.T) {
	dataset := `
OUI/MA-L                                                    Organization
company_id                                                  Organization
                                                            Address

00-11-22   (hex)		Test Networks Inc.
001122     (base 16)		Test Networks Inc.

AA-BB-CC   (hex)		Another Vendor GmbH
`
	path := filepath.Join(t.TempDir(), "oui.txt")
	if err := os.WriteFile(path, []byte(dataset), 0o644); err != nil {
		t.Fatal(err)
	}

	db, err := LoadVendorDB(path)
	if err != nil {
		t.Fatalf("LoadVendorDB: %v", err)
	}
	if db.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", db.Len())
	}

	tests := []struct {
		mac    string
		want   string
		wantOK bool
	}{
		{mac: "00:11:22:33:44:55", want: "Test Networks Inc.", wantOK: true},
		{mac: "aa-bb-cc-dd-ee-ff", want: "Another Vendor GmbH", wantOK: true},
		{mac: "001122334455", want: "Test Networks Inc.", wantOK: true},
		{mac: "ff:ff:ff:ff:ff:ff", wantOK: false},
		{mac: "00", wantOK: false},
	}

	for _, tt := range tests {
		got, ok := db.Vendor(tt.mac)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("Vendor(%q) = (%q, %v), want (%q, %v)", tt.mac, got, ok, tt.want, tt.wantOK)
		}
	}
}
