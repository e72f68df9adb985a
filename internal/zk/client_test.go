package zk

import "testing"

func TestDomainToPath(t *testing.T) {
	tests := []struct {
		domain string
		want   string
	}{
		{"manta.example.com", "/com/example/manta"},
		{"webapi.staging.example.org", "/org/example/staging/webapi"},
		{"example.com", "/com/example"},
	}
	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			if got := DomainToPath(tt.domain); got != tt.want {
				t.Errorf("DomainToPath(%q) = %q, want %q", tt.domain, got, tt.want)
			}
		})
	}
}
