package lbmanager

import (
	"fmt"
	"os/exec"
	"strings"
)

// ErrHAProxyBinNotFound indicates the service manifest's start/exec
// property didn't contain any path ending in "haproxy".
var ErrHAProxyBinNotFound = fmt.Errorf("lbmanager: no haproxy path found in start/exec")

// DiscoverHAProxyBin resolves the haproxy binary path once at startup by
// reading the SMF service manifest's start/exec property for service and
// extracting the first whitespace-separated token ending in "haproxy"
// svcprop is the standard SMF property-query command on the platform
// this controller targets.
func DiscoverHAProxyBin(service string) (string, error) {
	out, err := exec.Command("svcprop", "-p", "start/exec", service).Output()
	if err != nil {
		return "", fmt.Errorf("lbmanager: svcprop -p start/exec %s: %w", service, err)
	}
	return parseHAProxyBin(string(out))
}

func parseHAProxyBin(propValue string) (string, error) {
	for _, field := range strings.Fields(propValue) {
		field = strings.Trim(field, `"`)
		if strings.HasSuffix(field, "haproxy") {
			return field, nil
		}
	}
	return "", ErrHAProxyBinNotFound
}
