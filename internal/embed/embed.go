// Package embed carries the HAProxy configuration template compiled into
// the binary, so an install never depends on a file shipped alongside it.
package embed

import "embed"

const HAProxyConfigFileTemplate = "haproxy.cfg.tmpl"

//go:embed templates/*
var TemplatesFS embed.FS
