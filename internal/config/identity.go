package config

import (
	"context"
	"os"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/host"
)

// DefaultInstanceName returns <uuid>@<hostname>, the instance naming used by
// the collector to tell agent restarts apart.
func DefaultInstanceName(ctx context.Context) string {
	return uuid.NewString() + "@" + hostname(ctx)
}

func hostname(ctx context.Context) string {
	if info, err := host.InfoWithContext(ctx); err == nil && info.Hostname != "" {
		return info.Hostname
	}
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	return "unknown"
}

// ApplyIdentityDefaults fills the instance name when it was not configured.
func (c *AgentConfig) ApplyIdentityDefaults(ctx context.Context) {
	if c.Service.Instance == "" {
		c.Service.Instance = DefaultInstanceName(ctx)
	}
}
