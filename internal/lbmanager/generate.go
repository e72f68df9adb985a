// Package lbmanager implements the Config Generator and LB Manager
// rendering a HAProxy configuration from a desired server set,
// validating it against the real haproxy binary before it ever touches
// the running config, and installing it atomically.
package lbmanager

import (
	"bytes"
	"errors"
	"fmt"
	"text/template"

	"github.com/TritonDataCenter/muppet-sub000/internal/embed"
	"github.com/TritonDataCenter/muppet-sub000/internal/helpers"
	"github.com/TritonDataCenter/muppet-sub000/internal/model"
)

// ErrNoHosts is returned immediately, without attempting to render or
// install anything, when the desired set is empty: installing a
// zero-backend config would take every frontend down.
var ErrNoHosts = errors.New("lbmanager: desired set has no hosts")

// GeneratorConfig carries the static per-deployment values that go into
// every rendered config alongside the dynamic server set.
type GeneratorConfig struct {
	Hostname          string
	TrustedIP         string
	UntrustedFrontend string
	NbThread          int
}

// BuildUntrustedFrontend renders the optional insecure-frontend block:
// empty when ips is empty, otherwise one bind line per configured
// untrusted IP, all on port 80.
func BuildUntrustedFrontend(ips []string) string {
	if len(ips) == 0 {
		return ""
	}
	var buf bytes.Buffer
	buf.WriteString("frontend http_external\n")
	buf.WriteString("        default_backend insecure_api\n")
	for _, ip := range ips {
		fmt.Fprintf(&buf, "        bind %s:80\n", ip)
	}
	return buf.String()
}

// Render produces the HAProxy config text for desired. It partitions
// servers into the secure (port 80) and clear (port 81) backend blocks
// by Kind: anything not explicitly "clear" goes to the secure backend.
func Render(cfg GeneratorConfig, desired model.ServerSet) ([]byte, error) {
	if len(desired) == 0 {
		return nil, ErrNoHosts
	}

	data := embed.HAProxyTemplateData{
		Hostname:          cfg.Hostname,
		TrustedIP:         cfg.TrustedIP,
		UntrustedFrontend: cfg.UntrustedFrontend,
		NbThread:          cfg.NbThread,
	}

	var secure, clear bytes.Buffer
	for _, id := range desired.SortedIDs() {
		server := desired[id]
		// Registration ids come from ZK node names; sanitize before they
		// land in a HAProxy server identifier.
		line := fmt.Sprintf("    server %s %s check inter 30s slowstart 10s\n", helpers.SanitizeString(server.ID), server.Address)
		if server.Kind == "clear" {
			clear.WriteString(line)
		} else {
			secure.WriteString(line)
		}
	}
	data.SecureBackend = secure.String()
	data.ClearBackend = clear.String()

	tmplData, err := embed.TemplatesFS.ReadFile("templates/" + embed.HAProxyConfigFileTemplate)
	if err != nil {
		return nil, fmt.Errorf("lbmanager: read embedded template: %w", err)
	}

	tmpl, err := template.New("haproxy").Parse(string(tmplData))
	if err != nil {
		return nil, fmt.Errorf("lbmanager: parse template: %w", err)
	}

	var out bytes.Buffer
	if err := tmpl.Execute(&out, data); err != nil {
		return nil, fmt.Errorf("lbmanager: execute template: %w", err)
	}
	return out.Bytes(), nil
}
