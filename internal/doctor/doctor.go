// Package doctor checks a dispatcher configuration and its environment
// before the service is started.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"

	"github.com/mattjoyce/ductile-ci/internal/config"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

const largePayloadBytes = 64 << 20

var unresolvedEnvVar = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg *config.Config
}

// New creates a Doctor for cfg.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	if err := config.Validate(d.cfg); err != nil {
		d.addError(r, "config", "", err.Error())
	}
	d.checkResultsDir(r)
	d.checkAPI(r)
	d.warnTiming(r)
	d.warnExposedListener(r)
	d.warnPayloadLimit(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// checkResultsDir makes sure payloads can actually be written.
func (d *Doctor) checkResultsDir(r *Result) {
	dir := d.cfg.Results.Dir
	if dir == "" {
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		d.addError(r, "results", "results.dir", fmt.Sprintf("cannot create %s: %v", dir, err))
		return
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		d.addError(r, "results", "results.dir", fmt.Sprintf("%s is not writable: %v", dir, err))
		return
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
}

func (d *Doctor) checkAPI(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	token := d.cfg.API.Token
	if token == "" {
		d.addWarning(r, "api", "api.token", "API enabled without a token; runner and queue details are readable by anyone who can reach "+d.cfg.API.Listen)
		return
	}
	for _, m := range unresolvedEnvVar.FindAllStringSubmatch(token, -1) {
		d.addError(r, "env_vars", "api.token", fmt.Sprintf("environment variable ${%s} not set", m[1]))
	}
}

// warnTiming flags interval combinations that slow recovery down.
func (d *Doctor) warnTiming(r *Result) {
	hb := d.cfg.Heartbeat
	if hb.Timeout > hb.Interval {
		d.addWarning(r, "timing", "heartbeat.timeout",
			fmt.Sprintf("timeout %s exceeds interval %s; a hung runner delays the next cycle", hb.Timeout, hb.Interval))
	}
	if d.cfg.Redistribute.Interval < hb.Interval {
		d.addWarning(r, "timing", "redistribute.interval",
			fmt.Sprintf("redistribution every %s runs more often than heartbeats (%s)", d.cfg.Redistribute.Interval, hb.Interval))
	}
	if d.cfg.Dispatch.ProbeTimeout > 10*d.cfg.Dispatch.Backoff && d.cfg.Dispatch.Backoff > 0 {
		d.addWarning(r, "timing", "dispatch.probe_timeout",
			fmt.Sprintf("probe timeout %s is much longer than backoff %s; one slow runner stalls every pass", d.cfg.Dispatch.ProbeTimeout, d.cfg.Dispatch.Backoff))
	}
}

// warnExposedListener notes that the TCP protocol has no authentication.
func (d *Doctor) warnExposedListener(r *Result) {
	host := d.cfg.Listen.Host
	if host == "localhost" {
		return
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return
	}
	d.addWarning(r, "listen", "listen.host",
		fmt.Sprintf("dispatcher listens on %q; any host that can connect may register runners or post results", host))
}

func (d *Doctor) warnPayloadLimit(r *Result) {
	if d.cfg.Results.MaxPayloadBytes > largePayloadBytes {
		d.addWarning(r, "results", "results.max_payload_bytes",
			fmt.Sprintf("%d bytes per result is held in memory while it is read", d.cfg.Results.MaxPayloadBytes))
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	switch {
	case r.Valid && len(r.Warnings) == 0:
		b.WriteString("Configuration valid.\n")
		return b.String()
	case r.Valid:
		fmt.Fprintf(&b, "Configuration valid (%d warning(s))\n", len(r.Warnings))
	default:
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		writeIssue(&b, "ERROR", e)
	}
	for _, w := range r.Warnings {
		writeIssue(&b, "WARN ", w)
	}
	return b.String()
}

func writeIssue(b *strings.Builder, level string, i Issue) {
	if i.Field != "" {
		fmt.Fprintf(b, "  %s [%s] %s: %s\n", level, i.Category, i.Field, i.Message)
		return
	}
	fmt.Fprintf(b, "  %s [%s] %s\n", level, i.Category, i.Message)
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
