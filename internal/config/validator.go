package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a single validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// MultiValidationError represents multiple validation errors.
type MultiValidationError struct {
	Errors []ValidationError
}

// Error implements the error interface.
func (e *MultiValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}

	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("validation failed with %d errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		builder.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return builder.String()
}

type validationErrors []ValidationError

func (v *validationErrors) add(field, msg string) {
	*v = append(*v, ValidationError{Field: field, Message: msg})
}

func (v validationErrors) err() error {
	if len(v) == 0 {
		return nil
	}
	return &MultiValidationError{Errors: v}
}

// Validate validates the agent configuration.
func (c *AgentConfig) Validate() error {
	var errs validationErrors

	if c.Service.Name == "" {
		errs.add("service.name", "service name is required")
	}

	validateEndpoint(&errs, "collector.endpoint", c.Collector.Endpoint)

	switch c.Collector.Protocol {
	case "grpc", "connect":
	default:
		errs.add("collector.protocol", "protocol must be 'grpc' or 'connect'")
	}

	if c.Collector.UpstreamTimeout <= 0 {
		errs.add("collector.upstream_timeout", "upstream timeout must be positive")
	}
	if c.Collector.AckTimeout <= 0 {
		errs.add("collector.ack_timeout", "ack timeout must be positive")
	} else if c.Collector.AckTimeout >= c.Collector.UpstreamTimeout {
		errs.add("collector.ack_timeout", "ack timeout must be shorter than the upstream timeout")
	}
	if c.Collector.ChunkSize <= 0 {
		errs.add("collector.chunk_size", "chunk size must be positive")
	}
	if c.Collector.TaskPollInterval <= 0 {
		errs.add("collector.task_poll_interval", "task poll interval must be positive")
	}
	if c.Collector.CheckInterval <= 0 {
		errs.add("collector.check_interval", "check interval must be positive")
	}
	if c.Collector.KeepAliveTimeout <= 0 {
		errs.add("collector.keep_alive_timeout", "keep-alive timeout must be positive")
	}

	if c.Profiling.OutputDir == "" {
		errs.add("profiling.output_dir", "output directory is required")
	}
	if c.Profiling.QueueSize <= 0 {
		errs.add("profiling.queue_size", "queue size must be positive")
	}
	if c.Profiling.MaxDuration <= 0 {
		errs.add("profiling.max_duration", "max duration must be positive")
	}
	if c.Profiling.CleanupInterval <= 0 {
		errs.add("profiling.cleanup_interval", "cleanup interval must be positive")
	}

	return errs.err()
}

// Validate validates the development collector configuration.
func (c *CollectorServerConfig) Validate() error {
	var errs validationErrors

	if c.Listen == "" {
		errs.add("listen", "listen address is required")
	}
	if c.ArtifactDir == "" {
		errs.add("artifact_dir", "artifact directory is required")
	}
	if c.MaxContentSize <= 0 {
		errs.add("max_content_size", "max content size must be positive")
	}

	return errs.err()
}

func validateEndpoint(errs *validationErrors, field, endpoint string) {
	if endpoint == "" {
		errs.add(field, "endpoint is required")
		return
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		errs.add(field, fmt.Sprintf("invalid URL: %v", err))
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		errs.add(field, "endpoint scheme must be http or https")
	}
	if u.Host == "" {
		errs.add(field, "endpoint host is required")
	}
}
