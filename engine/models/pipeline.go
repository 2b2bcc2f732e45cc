package models

import "time"

// PipelineMetadata describes a registered pipeline beyond its capability
// tags: category, version, provenance.
type PipelineMetadata struct {
	Category     string            `json:"category"`
	Version      string            `json:"version,omitempty"`
	Description  string            `json:"description,omitempty"`
	Author       string            `json:"author,omitempty"`
	Capabilities []string          `json:"capabilities"`
	Dependencies []string          `json:"dependencies,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	// Priority feeds find_pipelines' scoring (priority*0.5 + success_rate*0.3
	// + (1/avg_time)*0.2); defaults to 1.0 when unset.
	Priority     float64           `json:"priority,omitempty"`
	RegisteredAt time.Time         `json:"registered_at"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// PipelineStats is the stateful counters the registry keeps per registered
// pipeline name, independent of any particular instance.
type PipelineStats struct {
	SuccessCount      uint64        `json:"success_count"`
	FailureCount      uint64        `json:"failure_count"`
	AvgExecutionTime  time.Duration `json:"avg_execution_time"`
	totalExecutionNS  int64
}

// Observe folds one execution outcome into the running average.
func (s *PipelineStats) Observe(d time.Duration, success bool) {
	if success {
		s.SuccessCount++
	} else {
		s.FailureCount++
	}
	n := s.SuccessCount + s.FailureCount
	s.totalExecutionNS += d.Nanoseconds()
	if n > 0 {
		s.AvgExecutionTime = time.Duration(s.totalExecutionNS / int64(n))
	}
}

// SuccessRate returns successes / (successes+failures), or 0 with no runs.
func (s *PipelineStats) SuccessRate() float64 {
	n := s.SuccessCount + s.FailureCount
	if n == 0 {
		return 0
	}
	return float64(s.SuccessCount) / float64(n)
}

// PipelineRequirements narrows candidate pipelines by capability.
type PipelineRequirements struct {
	Capabilities []string `json:"capabilities"`
}

// ExecutionStrategy selects how the orchestrator dispatches across matching
// pipelines.
type ExecutionStrategy string

const (
	StrategyFirst    ExecutionStrategy = "first"
	StrategyFallback ExecutionStrategy = "fallback"
	StrategyParallel ExecutionStrategy = "parallel"
)

// ExecuteOptions configures orchestrator.Execute.
type ExecuteOptions struct {
	Strategy      ExecutionStrategy `json:"strategy"`
	MaxConcurrent int               `json:"max_concurrent,omitempty"`
	Timeout       time.Duration     `json:"timeout,omitempty"`
	Retry         *RetryPolicy      `json:"retry,omitempty"`
}

// RetryPolicy configures exponential backoff retry around pipeline execution.
type RetryPolicy struct {
	MaxRetries       int           `json:"max_retries"`
	InitialDelay     time.Duration `json:"initial_delay"`
	MaxDelay         time.Duration `json:"max_delay"`
	BackoffMultiplier float64      `json:"backoff_multiplier"`
	// ShouldRetry overrides the default retryable-kind predicate when set.
	ShouldRetry func(error) bool `json:"-"`
}

// ErrorResult is the shape surfaced to orchestrator callers on failure.
type ErrorResult struct {
	Success  bool            `json:"success"`
	Error    string           `json:"error"`
	Metadata ErrorResultMeta `json:"metadata"`
}

// ErrorResultMeta carries execution provenance alongside an ErrorResult.
type ErrorResultMeta struct {
	PipelineID    string        `json:"pipeline_id"`
	ExecutionTime time.Duration `json:"execution_time"`
	Timestamp     time.Time     `json:"timestamp"`
	Attempts      int           `json:"attempts"`
}
