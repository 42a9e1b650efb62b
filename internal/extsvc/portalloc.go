package extsvc

import (
	"context"
	"fmt"
	"net"

	"github.com/temps-sh/temps-core/internal/container"
)

// maxPortProbeAttempts bounds the upward walk from a service's default port
// when searching for a free host port (§4.5).
const maxPortProbeAttempts = 1000

// FindAvailablePort probes both the OS (bind attempt) and the container
// daemon's already-published ports, walking upward from defaultPort, and
// returns the first free candidate. Concurrent callers racing for the same
// default port must each re-probe (§5 shared-resource policy), which this
// function does by re-checking at call time rather than caching.
func FindAvailablePort(ctx context.Context, adapter container.Adapter, labels map[string]string, defaultPort int) (int, error) {
	inUse := map[int]bool{}
	if adapter != nil {
		ids, err := adapter.FindByLabels(ctx, labels)
		if err == nil {
			for _, id := range ids {
				status, err := adapter.Inspect(ctx, id)
				if err != nil {
					continue
				}
				for _, hostPort := range status.ExposedPorts {
					inUse[hostPort] = true
				}
			}
		}
	}

	for candidate := defaultPort; candidate < defaultPort+maxPortProbeAttempts; candidate++ {
		if inUse[candidate] {
			continue
		}
		if portBindable(candidate) {
			return candidate, nil
		}
	}
	return 0, fmt.Errorf("extsvc: no free port found near %d after %d attempts", defaultPort, maxPortProbeAttempts)
}

// portBindable attempts to bind 0.0.0.0:port to check OS-level availability.
func portBindable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", port))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}
