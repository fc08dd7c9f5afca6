package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Decode reads a JSON array of dataset records, as exported by the
// harvesting subsystem.
func Decode(r io.Reader) ([]*Dataset, error) {
	var datasets []*Dataset
	if err := json.NewDecoder(r).Decode(&datasets); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	for i, d := range datasets {
		if d == nil || d.InstanceID == "" {
			return nil, fmt.Errorf("catalog: record %d: %w", i, errors.New("missing instance_id"))
		}
		seen := make(map[string]bool, len(d.Files))
		for _, f := range d.Files {
			if f.InstanceID == "" {
				return nil, fmt.Errorf("catalog: dataset %s: file without instance_id", d.InstanceID)
			}
			if seen[f.InstanceID] {
				return nil, fmt.Errorf("catalog: dataset %s: duplicate file %s", d.InstanceID, f.InstanceID)
			}
			seen[f.InstanceID] = true
		}
	}
	return datasets, nil
}
