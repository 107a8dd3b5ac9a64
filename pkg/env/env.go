// Package env reads the few settings needed before config.Load runs.
package env

import (
	"os"
	"strings"
)

// Prefix namespaces every ticketbooth variable.
const Prefix = "TICKETBOOTH_"

// Get returns the trimmed value of key or fallback when unset or blank.
func Get(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

// Lookup reads TICKETBOOTH_<name>, then the bare name, then fallback.
func Lookup(name, fallback string) string {
	return Get(Prefix+name, Get(name, fallback))
}
