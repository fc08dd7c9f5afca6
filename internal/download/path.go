package download

import (
	"path/filepath"
	"strings"

	"github.com/ligustah/gridfetch/internal/catalog"
)

// drsFacets lists the metadata keys, in directory order, that make up a
// dataset path. Each entry holds the accepted spellings of one facet.
var drsFacets = [][]string{
	{"project"},
	{"product"},
	{"institute"},
	{"model"},
	{"experiment"},
	{"time_frequency", "frequency"},
	{"realm"},
	{"cmor_table", "table"},
	{"ensemble"},
	{"version"},
}

// derivePath builds root/project/product/.../ensemble/vVERSION from the
// dataset metadata. Datasets lacking any facet are stored under their
// instance id instead.
func derivePath(root string, rec *catalog.Dataset) string {
	parts := []string{root}
	for _, names := range drsFacets {
		v := facet(rec.Metadata, names)
		if v == "" {
			return filepath.Join(root, pathElement(rec.InstanceID))
		}
		if names[0] == "version" && !strings.HasPrefix(v, "v") {
			v = "v" + v
		}
		parts = append(parts, pathElement(v))
	}
	return filepath.Join(parts...)
}

func facet(md map[string]string, names []string) string {
	for _, n := range names {
		if v := strings.TrimSpace(md[n]); v != "" {
			return v
		}
	}
	return ""
}

// pathElement keeps a metadata value from escaping its directory level.
func pathElement(s string) string {
	s = strings.NewReplacer("/", "_", "\\", "_").Replace(s)
	if s == "." || s == ".." {
		return "_" + s
	}
	return s
}
