package lbmanager

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TritonDataCenter/muppet-sub000/internal/model"
)

func TestRenderNoHosts(t *testing.T) {
	_, err := Render(GeneratorConfig{}, model.ServerSet{})
	assert.ErrorIs(t, err, ErrNoHosts)
}

func TestRenderPartitionsByKind(t *testing.T) {
	desired := model.ServerSet{
		"A": {ID: "A", Kind: "host", Address: "10.0.0.1:80", Enabled: true},
		"B": {ID: "B", Kind: "clear", Address: "10.0.0.2:81", Enabled: true},
	}
	out, err := Render(GeneratorConfig{Hostname: "lb0", TrustedIP: "10.1.1.1", NbThread: 4}, desired)
	require.NoError(t, err)

	text := string(out)
	assert.Contains(t, text, "server A 10.0.0.1:80 check inter 30s slowstart 10s")
	assert.Contains(t, text, "server B 10.0.0.2:81 check inter 30s slowstart 10s")
	assert.Contains(t, text, "nbthread 4")
	assert.Contains(t, text, "lb0")

	clearSection := text[strings.Index(text, "backend insecure_api"):]
	assert.Contains(t, clearSection, "server B ")
	assert.NotContains(t, clearSection, "server A ")
}

func TestBuildUntrustedFrontendEmpty(t *testing.T) {
	assert.Equal(t, "", BuildUntrustedFrontend(nil))
}

func TestBuildUntrustedFrontendBindsEachIP(t *testing.T) {
	block := BuildUntrustedFrontend([]string{"10.2.2.1", "10.2.2.2"})
	assert.Contains(t, block, "frontend http_external")
	assert.Contains(t, block, "default_backend insecure_api")
	assert.Contains(t, block, "bind 10.2.2.1:80")
	assert.Contains(t, block, "bind 10.2.2.2:80")
}
