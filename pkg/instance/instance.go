// Package instance names the running process for lock ownership and logs.
package instance

import (
	"fmt"
	"os"
	"sync"

	"github.com/angelmondragon/ticketbooth/pkg/config"
)

var id = sync.OnceValue(resolve)

// GetID returns TICKETBOOTH_WORKER_ID, else the hostname, else a pid-based
// name. The value is fixed for the life of the process.
func GetID() string { return id() }

func resolve() string {
	if v := os.Getenv(config.EnvWorkerID); v != "" {
		return v
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fmt.Sprintf("ticketbooth-%d", os.Getpid())
}
