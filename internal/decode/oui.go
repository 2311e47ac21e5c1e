package decode

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
)

var ouiLine = regexp.MustCompile(`^([0-9A-F]{2}-[0-9A-F]{2}-[0-9A-F]{2})\s+\(hex\)\s+(.*)$`)

// VendorDB maps the first six hex digits of a MAC address to a vendor name.
type VendorDB struct {
	vendors map[string]string
}

// NewVendorDB returns an empty vendor database.
func NewVendorDB() *VendorDB {
	return &VendorDB{vendors: make(map[string]string)}
}

// LoadVendorDB parses an IEEE oui.txt dataset. Lines that don't match the
// `XX-XX-XX (hex) Vendor` form are skipped.
func LoadVendorDB(path string) (*VendorDB, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening OUI dataset: %w", err)
	}
	defer f.Close()

	db := NewVendorDB()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		m := ouiLine.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		prefix := strings.ReplaceAll(m[1], "-", "")
		db.vendors[prefix] = strings.TrimSpace(m[2])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading OUI dataset: %w", err)
	}
	return db, nil
}

// Len reports the number of loaded vendor prefixes.
func (db *VendorDB) Len() int {
	return len(db.vendors)
}

// Vendor looks up the hardware vendor for a MAC address. Separators are
// stripped and the first six hex digits are matched case-insensitively.
func (db *VendorDB) Vendor(mac string) (string, bool) {
	cleaned := strings.ToUpper(strings.NewReplacer(":", "", "-", "", ".", "").Replace(mac))
	if len(cleaned) < 6 {
		return "", false
	}
	vendor, ok := db.vendors[cleaned[:6]]
	return vendor, ok
}
