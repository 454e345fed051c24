package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	types "github.com/trendsift/trendsift-backend/internal/domain"
	"github.com/trendsift/trendsift-backend/internal/platform/envutil"
)

// PlatformTuning is the per-platform knob set: page sizing, the per-invocation
// page budget that keeps a single delivery short-lived, the hard delay between
// enrichment calls, and the upstream request timeout.
type PlatformTuning struct {
	PageSize              int `yaml:"page_size"`
	MaxPagesPerRun        int `yaml:"max_pages_per_run"`
	EnrichDelayMS         int `yaml:"enrich_delay_ms"`
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`
}

func (t PlatformTuning) EnrichDelay() time.Duration {
	return time.Duration(t.EnrichDelayMS) * time.Millisecond
}

func (t PlatformTuning) RequestTimeout() time.Duration {
	return time.Duration(t.RequestTimeoutSeconds) * time.Second
}

// Snapshot is an immutable view of pipeline tuning taken at invocation start.
// Components receive it explicitly; nothing reads tuning from ambient global
// state mid-run. Refreshing is an explicit Load call.
type Snapshot struct {
	TargetCeiling          int                       `yaml:"target_ceiling"`
	JobTimeoutMinutes      int                       `yaml:"job_timeout_minutes"`
	TaskMaxRetries         int                       `yaml:"task_max_retries"`
	RetryBackoffSeconds    int                       `yaml:"retry_backoff_seconds"`
	RetryBackoffMaxSeconds int                       `yaml:"retry_backoff_max_seconds"`
	Platforms              map[string]PlatformTuning `yaml:"platforms"`
}

func (s Snapshot) JobTimeout() time.Duration {
	return time.Duration(s.JobTimeoutMinutes) * time.Minute
}

func (s Snapshot) RetryBackoff() time.Duration {
	return time.Duration(s.RetryBackoffSeconds) * time.Second
}

func (s Snapshot) RetryBackoffMax() time.Duration {
	return time.Duration(s.RetryBackoffMaxSeconds) * time.Second
}

// Platform returns the tuning for the named platform, falling back to
// defaults for anything unset.
func (s Snapshot) Platform(name string) PlatformTuning {
	def := defaultTuning(name)
	t, ok := s.Platforms[name]
	if !ok {
		return def
	}
	if t.PageSize <= 0 {
		t.PageSize = def.PageSize
	}
	if t.MaxPagesPerRun <= 0 {
		t.MaxPagesPerRun = def.MaxPagesPerRun
	}
	if t.EnrichDelayMS <= 0 {
		t.EnrichDelayMS = def.EnrichDelayMS
	}
	if t.RequestTimeoutSeconds <= 0 {
		t.RequestTimeoutSeconds = def.RequestTimeoutSeconds
	}
	return t
}

func defaultTuning(platform string) PlatformTuning {
	t := PlatformTuning{
		PageSize:              20,
		MaxPagesPerRun:        3,
		EnrichDelayMS:         250,
		RequestTimeoutSeconds: 30,
	}
	switch platform {
	case types.PlatformInstagram:
		// Most aggressive upstream limiter of the three.
		t.EnrichDelayMS = 500
	case types.PlatformYouTube:
		t.EnrichDelayMS = 100
	}
	return t
}

func Default() Snapshot {
	return Snapshot{
		TargetCeiling:          1000,
		JobTimeoutMinutes:      30,
		TaskMaxRetries:         5,
		RetryBackoffSeconds:    30,
		RetryBackoffMaxSeconds: 600,
		Platforms: map[string]PlatformTuning{
			types.PlatformTikTok:    defaultTuning(types.PlatformTikTok),
			types.PlatformInstagram: defaultTuning(types.PlatformInstagram),
			types.PlatformYouTube:   defaultTuning(types.PlatformYouTube),
		},
	}
}

// Load reads the tuning file named by PIPELINE_CONFIG_PATH (or the given
// path) over the defaults. A missing file is not an error; a malformed one is.
func Load(path string) (Snapshot, error) {
	snap := Default()
	if path == "" {
		path = envutil.String("PIPELINE_CONFIG_PATH", "configs/platforms.yaml")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return snap, nil
		}
		return snap, fmt.Errorf("read pipeline config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &snap); err != nil {
		return Default(), fmt.Errorf("parse pipeline config: %w", err)
	}
	if snap.TargetCeiling <= 0 {
		snap.TargetCeiling = Default().TargetCeiling
	}
	if snap.JobTimeoutMinutes <= 0 {
		snap.JobTimeoutMinutes = Default().JobTimeoutMinutes
	}
	if snap.TaskMaxRetries <= 0 {
		snap.TaskMaxRetries = Default().TaskMaxRetries
	}
	if snap.RetryBackoffSeconds <= 0 {
		snap.RetryBackoffSeconds = Default().RetryBackoffSeconds
	}
	if snap.RetryBackoffMaxSeconds <= 0 {
		snap.RetryBackoffMaxSeconds = Default().RetryBackoffMaxSeconds
	}
	return snap, nil
}
