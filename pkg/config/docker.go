package config

import (
	"os"
	"sync"
)

// containerMarkers are files the Docker and Podman runtimes create in every container.
var containerMarkers = []string{"/.dockerenv", "/run/.containerenv"}

var inContainer = sync.OnceValue(func() bool {
	for _, path := range containerMarkers {
		if _, err := os.Stat(path); err == nil {
			return true
		}
	}
	return false
})

// IsRunningInDocker reports whether the process runs inside a container.
// The result is computed once.
func IsRunningInDocker() bool {
	return inContainer()
}

// ResolveHostForDocker rewrites a loopback host to host.docker.internal when
// running in a container, so a store or Redis on the developer's machine stays
// reachable. Any other host is returned unchanged.
func ResolveHostForDocker(host string) string {
	return resolveHost(host, IsRunningInDocker())
}

func resolveHost(host string, containerized bool) string {
	if !containerized {
		return host
	}
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return "host.docker.internal"
	}
	return host
}
