// Package decode implements the compact wire-format decoders: geohash
// coordinates, base62 cell identifiers, base64 BSSIDs, and OUI vendor lookups.
package decode

import (
	"fmt"
	"strings"
)

const geohashAlphabet = "0123456789bcdefghjkmnpqrstuvwxyz"

// geohashPrecision maps geohash string length to approximate precision in meters.
var geohashPrecision = map[int]float64{
	1: 5000000, 2: 1250000, 3: 156000, 4: 39000,
	5: 4900, 6: 1200, 7: 152, 8: 38,
	9: 5, 10: 5, 11: 5, 12: 5,
}

// Geohash decodes a standard geohash into the center point of its cell and
// the approximate precision in meters for the given string length.
func Geohash(hash string) (lat, lon, precisionMeters float64, err error) {
	if hash == "" || len(hash) > 12 {
		return 0, 0, 0, fmt.Errorf("invalid geohash length %d", len(hash))
	}

	latMin, latMax := -90.0, 90.0
	lonMin, lonMax := -180.0, 180.0
	even := true

	for _, c := range strings.ToLower(hash) {
		idx := strings.IndexRune(geohashAlphabet, c)
		if idx < 0 {
			return 0, 0, 0, fmt.Errorf("invalid geohash character %q", c)
		}
		for bit := 4; bit >= 0; bit-- {
			set := idx&(1<<uint(bit)) != 0
			if even {
				mid := (lonMin + lonMax) / 2
				if set {
					lonMin = mid
				} else {
					lonMax = mid
				}
			} else {
				mid := (latMin + latMax) / 2
				if set {
					latMin = mid
				} else {
					latMax = mid
				}
			}
			even = !even
		}
	}

	return (latMin + latMax) / 2, (lonMin + lonMax) / 2, geohashPrecision[len(hash)], nil
}
