package geojson

import (
	"encoding/json"
	"os"
)

type exportState struct {
	LastProcessedID int64 `json:"last_processed_id"`
}

// loadLastProcessedID reads the export high-water mark. Any fault means
// starting from the beginning of the log.
func loadLastProcessedID(path string) int64 {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	var st exportState
	if err := json.Unmarshal(raw, &st); err != nil {
		return 0
	}
	return st.LastProcessedID
}

func saveLastProcessedID(path string, id int64) error {
	raw, err := json.Marshal(exportState{LastProcessedID: id})
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
