// # internal/core/app/health.go
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"strata/internal/lang"
	"strata/internal/shared/util"
)

type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components"`
}

// Health reports whether the service can take a run right now and what
// each subsystem looks like.
func (s *Service) Health(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:     "up",
		Timestamp:  time.Now().UTC(),
		Components: make(map[string]string),
	}

	if s.Config == nil {
		status.Status = "degraded"
		status.Components["config"] = "missing"
	} else {
		status.Components["config"] = fmt.Sprintf("ok (version %d)", s.Config.Version)

		if s.Config.Spool.Enabled && strings.TrimSpace(s.Config.Spool.Path) == "" {
			status.Status = "degraded"
			status.Components["spool"] = "enabled but no path configured"
		} else {
			status.Components["spool"] = describeSpool(s.Config.Spool)
		}
	}

	known := lang.Known()
	structural := 0
	for _, l := range known {
		if lang.Structural(l) {
			structural++
		}
	}
	status.Components["languages"] = fmt.Sprintf("ok (%d detected, %d structural)", len(known), structural)
	status.Components["heap"] = fmt.Sprintf("%d MB", util.HeapAllocMB())

	return status
}
