package pgx

import (
	"strconv"
	"strings"
)

// Hierarchy paths travel through bulk inserts as one delimited string
// because unnest cannot carry nested arrays.
const pathSeparator = "/"

func joinPath(path []string) string {
	return strings.Join(path, pathSeparator)
}

func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, pathSeparator)
}

// joinInt64s packs ids into a comma separated string for the same
// unnest limitation.
func joinInt64s(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
