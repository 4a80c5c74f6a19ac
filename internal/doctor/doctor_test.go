package doctor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/ductile-ci/internal/config"
)

func validConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Results.Dir = filepath.Join(t.TempDir(), "test_results")
	return cfg
}

func hasIssue(issues []Issue, field string) bool {
	for _, i := range issues {
		if i.Field == field {
			return true
		}
	}
	return false
}

func TestValidateDefaults(t *testing.T) {
	t.Parallel()

	r := New(validConfig(t)).Validate()
	assert.True(t, r.Valid, "%v", r.Errors)
	assert.Empty(t, r.Warnings)
	assert.Equal(t, "Configuration valid.\n", FormatHuman(r))
}

func TestValidateReportsConfigErrors(t *testing.T) {
	t.Parallel()

	cfg := validConfig(t)
	cfg.Heartbeat.Interval = 0
	r := New(cfg).Validate()
	require.False(t, r.Valid)
	assert.Contains(t, r.Errors[0].Message, "heartbeat.interval")
	assert.Contains(t, FormatHuman(r), "ERROR [config]")
}

func TestValidateUnwritableResultsDir(t *testing.T) {
	t.Parallel()

	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	cfg := validConfig(t)
	cfg.Results.Dir = filepath.Join(blocker, "results")
	r := New(cfg).Validate()
	assert.False(t, r.Valid)
	assert.True(t, hasIssue(r.Errors, "results.dir"))
}

func TestValidateAPIToken(t *testing.T) {
	t.Parallel()

	cfg := validConfig(t)
	cfg.API.Enabled = true
	r := New(cfg).Validate()
	assert.True(t, r.Valid)
	assert.True(t, hasIssue(r.Warnings, "api.token"))

	cfg.API.Token = "${DUCTILE_CI_DOCTOR_TEST_UNSET}"
	r = New(cfg).Validate()
	assert.False(t, r.Valid)
	assert.True(t, hasIssue(r.Errors, "api.token"))
}

func TestValidateTimingAndExposureWarnings(t *testing.T) {
	t.Parallel()

	cfg := validConfig(t)
	cfg.Listen.Host = "0.0.0.0"
	cfg.Heartbeat.Timeout = 3 * time.Second
	cfg.Redistribute.Interval = 500 * time.Millisecond
	cfg.Dispatch.Backoff = 100 * time.Millisecond
	cfg.Results.MaxPayloadBytes = 128 << 20

	r := New(cfg).Validate()
	assert.True(t, r.Valid)
	for _, field := range []string{"listen.host", "heartbeat.timeout", "redistribute.interval", "dispatch.probe_timeout", "results.max_payload_bytes"} {
		assert.True(t, hasIssue(r.Warnings, field), field)
	}

	human := FormatHuman(r)
	assert.True(t, strings.HasPrefix(human, "Configuration valid (5 warning(s))"))
}

func TestLoopbackListenerIsQuiet(t *testing.T) {
	t.Parallel()

	cfg := validConfig(t)
	cfg.Listen.Host = "127.0.0.1"
	assert.False(t, hasIssue(New(cfg).Validate().Warnings, "listen.host"))
}

func TestFormatJSON(t *testing.T) {
	t.Parallel()

	out, err := FormatJSON(&Result{Valid: false, Errors: []Issue{{Category: "config", Message: "bad"}}})
	require.NoError(t, err)
	assert.Contains(t, out, `"valid": false`)
	assert.Contains(t, out, `"category": "config"`)
}
