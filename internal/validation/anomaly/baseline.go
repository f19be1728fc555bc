package anomaly

import (
	_ "embed"
	"encoding/json"
	"fmt"
)

//go:embed baseline.json
var baselineJSON []byte

// BaselineSamples returns the bundled reference dataset used when no
// persisted history is available.
func BaselineSamples() ([]Sample, error) {
	var samples []Sample
	if err := json.Unmarshal(baselineJSON, &samples); err != nil {
		return nil, fmt.Errorf("decode baseline samples: %w", err)
	}
	return samples, nil
}
