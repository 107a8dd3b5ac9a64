// Package enums holds the string enums shared by the Postgres schema, the
// outbox envelopes and the HTTP payloads.
package enums

import (
	"fmt"
	"slices"
)

func parse[T ~string](kind, raw string, set []T) (T, error) {
	if v := T(raw); slices.Contains(set, v) {
		return v, nil
	}
	return "", fmt.Errorf("invalid %s %q", kind, raw)
}
