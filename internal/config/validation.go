package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"pyvm/internal/integrity"
	"pyvm/internal/version"
)

// ValidationResult captures a single validation finding.
type ValidationResult struct {
	Level   string `json:"level"` // "error" or "warning"
	Message string `json:"message"`
}

// Validate runs every settings check and returns structured results.
func (c Config) Validate() []ValidationResult {
	var results []ValidationResult
	results = append(results, c.validateDownload()...)
	results = append(results, c.validateChecksums()...)
	results = append(results, c.validateLock()...)
	results = append(results, c.validateActivation()...)
	return results
}

// Err folds error-level findings into a single error, or nil.
func (c Config) Err() error {
	var errs []error
	for _, r := range c.Validate() {
		if r.Level == "error" {
			errs = append(errs, errors.New(r.Message))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid settings: %w", errors.Join(errs...))
}

func (c Config) validateDownload() []ValidationResult {
	var results []ValidationResult
	d := c.Download
	if !strings.Contains(d.URLTemplate, "{version}") {
		results = append(results, errorf("download.url_template %q has no {version} placeholder", d.URLTemplate))
	}
	if d.ChecksumURLTemplate != "" && !strings.Contains(d.ChecksumURLTemplate, "{version}") {
		results = append(results, errorf("download.checksum_url_template %q has no {version} placeholder", d.ChecksumURLTemplate))
	}
	if d.StripComponents < 0 {
		results = append(results, errorf("download.strip_components must not be negative"))
	}
	if d.Timeout < 0 {
		results = append(results, errorf("download.timeout must not be negative"))
	}
	r := d.Retries
	if r.Attempts < 1 {
		results = append(results, errorf("download.retries.attempts must be at least 1, got %d", r.Attempts))
	}
	if r.InitialDelay < 0 || r.MaxDelay < 0 {
		results = append(results, errorf("download.retries delays must not be negative"))
	}
	if r.MaxDelay > 0 && r.InitialDelay > r.MaxDelay {
		results = append(results, warningf("download.retries.initial_delay %s exceeds max_delay %s", r.InitialDelay, r.MaxDelay))
	}
	return results
}

func (c Config) validateChecksums() []ValidationResult {
	var results []ValidationResult
	ids := make([]string, 0, len(c.Download.Checksums))
	for id := range c.Download.Checksums {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if _, err := version.Parse(id); err != nil {
			results = append(results, errorf("download.checksums: %v", err))
			continue
		}
		digest, err := integrity.Normalize(c.Download.Checksums[id])
		if err != nil {
			results = append(results, errorf("download.checksums[%s]: %v", id, err))
		} else if digest == "" {
			results = append(results, errorf("download.checksums[%s] is empty", id))
		}
	}
	if c.Verify.RequireDigestValue() && len(c.Download.Checksums) == 0 && c.Download.ChecksumURLTemplate == "" {
		results = append(results, warningf("verify.require_digest is set but no checksums or checksum_url_template are configured"))
	}
	return results
}

func (c Config) validateLock() []ValidationResult {
	var results []ValidationResult
	if c.Lock.Timeout < 0 {
		results = append(results, errorf("lock.timeout must not be negative"))
	}
	return results
}

func (c Config) validateActivation() []ValidationResult {
	var results []ValidationResult
	switch c.Activation.Target {
	case "auto", "registry", "file":
	default:
		results = append(results, errorf("activation.target must be auto, registry or file, got %q", c.Activation.Target))
	}
	sub := c.Activation.BinSubdirValue()
	if strings.Contains(sub, "..") {
		results = append(results, errorf("activation.bin_subdir %q must stay inside the install", sub))
	}
	return results
}

func errorf(format string, args ...any) ValidationResult {
	return ValidationResult{Level: "error", Message: fmt.Sprintf(format, args...)}
}

func warningf(format string, args ...any) ValidationResult {
	return ValidationResult{Level: "warning", Message: fmt.Sprintf(format, args...)}
}
