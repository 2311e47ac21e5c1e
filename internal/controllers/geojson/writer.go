package geojson

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// writer appends features to the newest rolling output file, starting a new
// one whenever the current file has grown past the size cap.
type writer struct {
	dir        string
	maxBytes   int64
	now        func() time.Time
	path       string
	collection featureCollection
	full       bool
}

func newWriter(dir string, maxBytes int64, now func() time.Time) (*writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}
	w := &writer{dir: dir, maxBytes: maxBytes, now: now}
	w.openCurrent()
	return w, nil
}

// openCurrent resumes the newest output file when it still has room,
// otherwise points at a fresh one.
func (w *writer) openCurrent() {
	w.collection = featureCollection{Type: "FeatureCollection"}
	w.path = w.freshPath()

	matches, err := filepath.Glob(filepath.Join(w.dir, "hoarder_*.geojson"))
	if err != nil || len(matches) == 0 {
		return
	}

	var newest string
	var newestMod time.Time
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = m
			newestMod = info.ModTime()
		}
	}
	if newest == "" {
		return
	}
	if info, err := os.Stat(newest); err != nil || info.Size() >= w.maxBytes {
		return
	}

	raw, err := os.ReadFile(newest)
	if err != nil {
		return
	}
	var col featureCollection
	if err := json.Unmarshal(raw, &col); err != nil {
		return
	}
	w.collection = col
	w.path = newest
}

func (w *writer) freshPath() string {
	base := "hoarder_" + w.now().UTC().Format("20060102T150405Z")
	path := filepath.Join(w.dir, base+".geojson")
	for n := 1; ; n++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		path = filepath.Join(w.dir, fmt.Sprintf("%s_%d.geojson", base, n))
	}
}

func (w *writer) writeFeatures(features []feature) error {
	if w.full {
		w.collection = featureCollection{Type: "FeatureCollection"}
		w.path = w.freshPath()
		w.full = false
	}
	w.collection.Features = append(w.collection.Features, features...)
	return w.save()
}

func (w *writer) finalize() error {
	if len(w.collection.Features) == 0 {
		return nil
	}
	return w.save()
}

func (w *writer) save() error {
	raw, err := json.Marshal(w.collection)
	if err != nil {
		return fmt.Errorf("encoding feature collection: %w", err)
	}
	if err := os.WriteFile(w.path, raw, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", w.path, err)
	}
	w.full = int64(len(raw)) >= w.maxBytes
	return nil
}
