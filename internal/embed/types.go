package embed

// HAProxyTemplateData holds the values substituted into the HAProxy config
// template: a host name, the secure (port 80) and clear (port 81) server
// blocks, an optional untrusted frontend block, the trusted-IP literal
// (referenced twice by the template), and the configured thread count.
type HAProxyTemplateData struct {
	Hostname          string
	SecureBackend     string
	ClearBackend      string
	UntrustedFrontend string
	TrustedIP         string
	NbThread          int
}
