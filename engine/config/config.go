// Package config composes the runtime-tunable policy for every engine
// subsystem into one versioned, validated document. It owns composition,
// defaulting, and validation; LoadFromFile and SaveToFile read and write a
// RuntimeConfig as YAML, and callers may also build one in code and hand it
// to Validate/ApplyDefaults.
package config

import (
	"fmt"
	"strings"
	"time"
)

// RuntimeConfig is the unified, versioned configuration for a running
// engine: one section per subsystem plus cross-cutting global settings.
type RuntimeConfig struct {
	Sync         SyncPolicy         `yaml:"sync" json:"sync"`
	Connector    ConnectorPolicy    `yaml:"connector" json:"connector"`
	Distribution DistributionPolicy `yaml:"distribution" json:"distribution"`
	Pipeline     PipelinePolicy     `yaml:"pipeline" json:"pipeline"`
	Telemetry    TelemetryPolicy    `yaml:"telemetry" json:"telemetry"`

	Global GlobalSettings `yaml:"global" json:"global"`

	Version     string `yaml:"version" json:"version"`
	Environment string `yaml:"environment" json:"environment"`
}

type SyncPolicy struct {
	Tolerance       time.Duration `yaml:"tolerance" json:"tolerance"`
	BufferCapacity  int           `yaml:"buffer_capacity" json:"buffer_capacity"`
	CadenceMode     string        `yaml:"cadence_mode" json:"cadence_mode"` // "on_arrival" or "fixed"
	CadenceInterval time.Duration `yaml:"cadence_interval" json:"cadence_interval"`
	SyncQueueDepth  int           `yaml:"sync_queue_depth" json:"sync_queue_depth"`
}

type ConnectorPolicy struct {
	ConnectTimeout    time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
	AutoReconnect     bool          `yaml:"auto_reconnect" json:"auto_reconnect"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay" json:"reconnect_delay"`
	MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay" json:"max_reconnect_delay"`
	KeepAlive         time.Duration `yaml:"keep_alive" json:"keep_alive"`
}

type DistributionPolicy struct {
	OutboundQueueDepth   int    `yaml:"outbound_queue_depth" json:"outbound_queue_depth"`
	DropPolicy           string `yaml:"drop_policy" json:"drop_policy"` // "drop_oldest" or "drop_newest"
	DegradeAfterFailures int    `yaml:"degrade_after_failures" json:"degrade_after_failures"`
}

type PipelinePolicy struct {
	ExecutionTimeout  time.Duration `yaml:"execution_timeout" json:"execution_timeout"`
	MaxRetries        int           `yaml:"max_retries" json:"max_retries"`
	InitialDelay      time.Duration `yaml:"initial_delay" json:"initial_delay"`
	MaxDelay          time.Duration `yaml:"max_delay" json:"max_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" json:"backoff_multiplier"`
}

// TelemetryPolicy centralizes runtime-tunable telemetry knobs. Durations
// are expected to be positive; zero values fall back to Default()'s
// values via Normalize.
type TelemetryPolicy struct {
	Health  HealthPolicy   `yaml:"health" json:"health"`
	Tracing TracingPolicy  `yaml:"tracing" json:"tracing"`
	Events  EventBusPolicy `yaml:"events" json:"events"`
}

type HealthPolicy struct {
	ProbeTTL                    time.Duration `yaml:"probe_ttl" json:"probe_ttl"`
	PipelineMinSamples          int           `yaml:"pipeline_min_samples" json:"pipeline_min_samples"`
	PipelineDegradedRatio       float64       `yaml:"pipeline_degraded_ratio" json:"pipeline_degraded_ratio"`
	PipelineUnhealthyRatio      float64       `yaml:"pipeline_unhealthy_ratio" json:"pipeline_unhealthy_ratio"`
	ResourceDegradedCheckpoint  int           `yaml:"resource_degraded_checkpoint" json:"resource_degraded_checkpoint"`
	ResourceUnhealthyCheckpoint int           `yaml:"resource_unhealthy_checkpoint" json:"resource_unhealthy_checkpoint"`
}

type TracingPolicy struct {
	SamplePercent           float64 `yaml:"sample_percent" json:"sample_percent"`
	ErrorBoostPercent       float64 `yaml:"error_boost_percent" json:"error_boost_percent"`
	LatencyBoostThresholdMs int64   `yaml:"latency_boost_threshold_ms" json:"latency_boost_threshold_ms"`
	LatencyBoostPercent     float64 `yaml:"latency_boost_percent" json:"latency_boost_percent"`
}

type EventBusPolicy struct {
	MaxSubscriberBuffer int `yaml:"max_subscriber_buffer" json:"max_subscriber_buffer"`
}

// GlobalSettings contains cross-cutting configuration.
type GlobalSettings struct {
	MaxConcurrency     int           `yaml:"max_concurrency" json:"max_concurrency"`
	GlobalTimeout      time.Duration `yaml:"global_timeout" json:"global_timeout"`
	HealthCheckEnabled bool          `yaml:"health_check_enabled" json:"health_check_enabled"`
	MetricsEnabled     bool          `yaml:"metrics_enabled" json:"metrics_enabled"`
	LogLevel           string        `yaml:"log_level" json:"log_level"`
	TraceEnabled       bool          `yaml:"trace_enabled" json:"trace_enabled"`
}

// New returns a RuntimeConfig with every section zero-valued; callers
// typically follow this with ApplyDefaults.
func New() *RuntimeConfig {
	return &RuntimeConfig{Version: "1.0.0", Environment: "development"}
}

// Default returns a RuntimeConfig with every section populated by its
// defaults, ready to use without further configuration.
func Default() *RuntimeConfig {
	c := New()
	c.ApplyDefaults()
	return c
}

// Compose builds a validated RuntimeConfig from individual sections,
// defaulting Global and stamping Environment as "production" — composed
// configs are assumed production-bound, matching how ad-hoc defaults are
// only appropriate for local development.
func Compose(sync SyncPolicy, connector ConnectorPolicy, distribution DistributionPolicy, pipeline PipelinePolicy) (*RuntimeConfig, error) {
	c := &RuntimeConfig{
		Sync:         sync,
		Connector:    connector,
		Distribution: distribution,
		Pipeline:     pipeline,
		Telemetry:    DefaultTelemetryPolicy(),
		Global:       DefaultGlobalSettings(),
		Version:      "1.0.0",
		Environment:  "production",
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy composition: %w", err)
	}
	return c, nil
}

func DefaultTelemetryPolicy() TelemetryPolicy {
	return TelemetryPolicy{
		Health: HealthPolicy{
			ProbeTTL:                    2 * time.Second,
			PipelineMinSamples:          10,
			PipelineDegradedRatio:       0.50,
			PipelineUnhealthyRatio:      0.80,
			ResourceDegradedCheckpoint:  256,
			ResourceUnhealthyCheckpoint: 512,
		},
		Tracing: TracingPolicy{SamplePercent: 20},
		Events:  EventBusPolicy{MaxSubscriberBuffer: 1024},
	}
}

// Normalize ensures sane bounds without mutating the receiver; returns a
// cleaned copy.
func (p TelemetryPolicy) Normalize() TelemetryPolicy {
	c := p
	if c.Health.ProbeTTL <= 0 {
		c.Health.ProbeTTL = 2 * time.Second
	}
	if c.Health.PipelineMinSamples <= 0 {
		c.Health.PipelineMinSamples = 10
	}
	if c.Health.PipelineDegradedRatio <= 0 {
		c.Health.PipelineDegradedRatio = 0.50
	}
	if c.Health.PipelineUnhealthyRatio <= 0 {
		c.Health.PipelineUnhealthyRatio = 0.80
	}
	if c.Health.ResourceDegradedCheckpoint <= 0 {
		c.Health.ResourceDegradedCheckpoint = 256
	}
	if c.Health.ResourceUnhealthyCheckpoint <= 0 {
		c.Health.ResourceUnhealthyCheckpoint = 512
	}
	if c.Tracing.SamplePercent < 0 {
		c.Tracing.SamplePercent = 0
	}
	if c.Tracing.SamplePercent > 100 {
		c.Tracing.SamplePercent = 100
	}
	if c.Events.MaxSubscriberBuffer <= 0 {
		c.Events.MaxSubscriberBuffer = 1024
	}
	return c
}

func DefaultGlobalSettings() GlobalSettings {
	return GlobalSettings{
		MaxConcurrency:     10,
		GlobalTimeout:      60 * time.Second,
		HealthCheckEnabled: true,
		MetricsEnabled:     true,
		LogLevel:           "info",
		TraceEnabled:       false,
	}
}

// Validate performs comprehensive validation of the unified configuration.
func (c *RuntimeConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("runtime configuration cannot be nil")
	}
	if err := c.validateSync(); err != nil {
		return fmt.Errorf("sync policy validation failed: %w", err)
	}
	if err := c.validateConnector(); err != nil {
		return fmt.Errorf("connector policy validation failed: %w", err)
	}
	if err := c.validateDistribution(); err != nil {
		return fmt.Errorf("distribution policy validation failed: %w", err)
	}
	if err := c.validatePipeline(); err != nil {
		return fmt.Errorf("pipeline policy validation failed: %w", err)
	}
	if err := c.validateGlobal(); err != nil {
		return fmt.Errorf("global settings validation failed: %w", err)
	}
	return nil
}

func (c *RuntimeConfig) validateSync() error {
	if c.Sync.Tolerance < 0 {
		return fmt.Errorf("tolerance cannot be negative: %v", c.Sync.Tolerance)
	}
	if c.Sync.BufferCapacity < 0 {
		return fmt.Errorf("buffer capacity cannot be negative: %d", c.Sync.BufferCapacity)
	}
	switch c.Sync.CadenceMode {
	case "", "on_arrival", "fixed":
	default:
		return fmt.Errorf("invalid cadence mode: %s", c.Sync.CadenceMode)
	}
	return nil
}

func (c *RuntimeConfig) validateConnector() error {
	if c.Connector.ConnectTimeout < 0 {
		return fmt.Errorf("connect timeout cannot be negative: %v", c.Connector.ConnectTimeout)
	}
	if c.Connector.ReconnectDelay < 0 {
		return fmt.Errorf("reconnect delay cannot be negative: %v", c.Connector.ReconnectDelay)
	}
	if c.Connector.MaxReconnectDelay < 0 {
		return fmt.Errorf("max reconnect delay cannot be negative: %v", c.Connector.MaxReconnectDelay)
	}
	if c.Connector.MaxReconnectDelay > 0 && c.Connector.ReconnectDelay > c.Connector.MaxReconnectDelay {
		return fmt.Errorf("reconnect delay (%v) cannot exceed max reconnect delay (%v)", c.Connector.ReconnectDelay, c.Connector.MaxReconnectDelay)
	}
	return nil
}

func (c *RuntimeConfig) validateDistribution() error {
	if c.Distribution.OutboundQueueDepth <= 0 {
		return fmt.Errorf("outbound queue depth must be positive: %d", c.Distribution.OutboundQueueDepth)
	}
	switch c.Distribution.DropPolicy {
	case "", "drop_oldest", "drop_newest":
	default:
		return fmt.Errorf("invalid drop policy: %s", c.Distribution.DropPolicy)
	}
	return nil
}

func (c *RuntimeConfig) validatePipeline() error {
	if c.Pipeline.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative: %d", c.Pipeline.MaxRetries)
	}
	if c.Pipeline.InitialDelay < 0 {
		return fmt.Errorf("initial delay cannot be negative: %v", c.Pipeline.InitialDelay)
	}
	if c.Pipeline.MaxDelay < 0 {
		return fmt.Errorf("max delay cannot be negative: %v", c.Pipeline.MaxDelay)
	}
	if c.Pipeline.BackoffMultiplier != 0 && c.Pipeline.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff multiplier must be >= 1: %v", c.Pipeline.BackoffMultiplier)
	}
	return nil
}

func (c *RuntimeConfig) validateGlobal() error {
	if c.Global.MaxConcurrency <= 0 {
		return fmt.Errorf("max concurrency must be positive: %d", c.Global.MaxConcurrency)
	}
	if c.Global.GlobalTimeout < 0 {
		return fmt.Errorf("global timeout cannot be negative: %v", c.Global.GlobalTimeout)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Global.LogLevel)] {
		return fmt.Errorf("invalid log level: %s", c.Global.LogLevel)
	}
	return nil
}

// ApplyDefaults applies default values to every zero-valued field across
// all sections.
func (c *RuntimeConfig) ApplyDefaults() {
	if c == nil {
		return
	}
	c.ApplySyncDefaults()
	c.ApplyConnectorDefaults()
	c.ApplyDistributionDefaults()
	c.ApplyPipelineDefaults()
	c.Telemetry = c.Telemetry.Normalize()
	c.ApplyGlobalDefaults()
}

func (c *RuntimeConfig) ApplySyncDefaults() {
	if c.Sync.Tolerance == 0 {
		c.Sync.Tolerance = 50 * time.Millisecond
	}
	if c.Sync.BufferCapacity == 0 {
		c.Sync.BufferCapacity = 256
	}
	if c.Sync.CadenceMode == "" {
		c.Sync.CadenceMode = "on_arrival"
	}
	if c.Sync.SyncQueueDepth == 0 {
		c.Sync.SyncQueueDepth = 128
	}
}

func (c *RuntimeConfig) ApplyConnectorDefaults() {
	if c.Connector.ConnectTimeout == 0 {
		c.Connector.ConnectTimeout = 5 * time.Second
	}
	if c.Connector.ReconnectDelay == 0 {
		c.Connector.ReconnectDelay = 3 * time.Second
	}
	if c.Connector.MaxReconnectDelay == 0 {
		c.Connector.MaxReconnectDelay = 60 * time.Second
	}
	if c.Connector.KeepAlive == 0 {
		c.Connector.KeepAlive = 30 * time.Second
	}
}

func (c *RuntimeConfig) ApplyDistributionDefaults() {
	if c.Distribution.OutboundQueueDepth == 0 {
		c.Distribution.OutboundQueueDepth = 1000
	}
	if c.Distribution.DropPolicy == "" {
		c.Distribution.DropPolicy = "drop_oldest"
	}
	if c.Distribution.DegradeAfterFailures == 0 {
		c.Distribution.DegradeAfterFailures = 5
	}
}

func (c *RuntimeConfig) ApplyPipelineDefaults() {
	if c.Pipeline.ExecutionTimeout == 0 {
		c.Pipeline.ExecutionTimeout = 30 * time.Second
	}
	if c.Pipeline.MaxRetries == 0 {
		c.Pipeline.MaxRetries = 3
	}
	if c.Pipeline.InitialDelay == 0 {
		c.Pipeline.InitialDelay = 100 * time.Millisecond
	}
	if c.Pipeline.MaxDelay == 0 {
		c.Pipeline.MaxDelay = 5 * time.Second
	}
	if c.Pipeline.BackoffMultiplier == 0 {
		c.Pipeline.BackoffMultiplier = 2
	}
}

func (c *RuntimeConfig) ApplyGlobalDefaults() {
	if c.Global.MaxConcurrency == 0 {
		c.Global.MaxConcurrency = 10
	}
	if c.Global.GlobalTimeout == 0 {
		c.Global.GlobalTimeout = 60 * time.Second
	}
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = "info"
	}
	if !c.Global.HealthCheckEnabled {
		c.Global.HealthCheckEnabled = true
	}
	if !c.Global.MetricsEnabled {
		c.Global.MetricsEnabled = true
	}
}
