package azcli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openlander/openlander/pkg/engine"
)

// Change types the what-if call reports for resources that are already
// in their desired shape.
const (
	changeTypeNoChange = "NoChange"
	changeTypeIgnore   = "Ignore"
)

// ResourceChange is one entry of a what-if comparison.
type ResourceChange struct {
	// ResourceID identifies the resource.
	ResourceID string `json:"resource_id"`

	// ChangeType is the platform's verdict: Create, Delete, Modify,
	// Deploy, NoChange, or Ignore.
	ChangeType string `json:"change_type"`
}

// Drifted reports whether applying the template would touch the
// resource.
func (c ResourceChange) Drifted() bool {
	return c.ChangeType != changeTypeNoChange && c.ChangeType != changeTypeIgnore
}

// DriftReport is the outcome of comparing deployed state against the
// template with what-if.
type DriftReport struct {
	// Changes lists every compared resource.
	Changes []ResourceChange `json:"changes"`
}

// Drifted returns the changes that would modify deployed state.
func (r *DriftReport) Drifted() []ResourceChange {
	var out []ResourceChange
	for _, change := range r.Changes {
		if change.Drifted() {
			out = append(out, change)
		}
	}
	return out
}

// InSync reports whether deployed state matches the template.
func (r *DriftReport) InSync() bool {
	return len(r.Drifted()) == 0
}

// whatIfResponse is the shape of the CLI's what-if JSON output.
type whatIfResponse struct {
	Changes []struct {
		ResourceID string `json:"resourceId"`
		ChangeType string `json:"changeType"`
	} `json:"changes"`
}

// WhatIf compares deployed state against the template without
// changing anything. Unlike Apply and Validate, a CLI failure here is
// an error: there is no run loop around drift detection to classify a
// diagnostic.
func (c *Client) WhatIf(ctx context.Context, target engine.ApplyTarget) (*DriftReport, error) {
	args, err := c.deploymentArgs("what-if", target)
	if err != nil {
		return nil, err
	}
	args = append(args, "--no-pretty-print")

	res, err := c.invoke(ctx, c.validateTimeout, args...)
	if err != nil {
		return nil, err
	}
	if res.exitCode != 0 {
		return nil, fmt.Errorf("what-if failed: %s", firstDiagnosticLine(res.diagnostic()))
	}

	var response whatIfResponse
	if err := json.Unmarshal([]byte(res.stdout), &response); err != nil {
		return nil, fmt.Errorf("failed to parse what-if output: %w", err)
	}

	report := &DriftReport{Changes: make([]ResourceChange, 0, len(response.Changes))}
	for _, change := range response.Changes {
		report.Changes = append(report.Changes, ResourceChange{
			ResourceID: change.ResourceID,
			ChangeType: change.ChangeType,
		})
	}

	c.logger.Info().
		Str("resource_group", target.ResourceGroup).
		Int("resources", len(report.Changes)).
		Int("drifted", len(report.Drifted())).
		Msg("What-if comparison complete")
	return report, nil
}

// firstDiagnosticLine trims a diagnostic to its leading line for error
// messages; the full text is for the classifier, not for wrapping.
func firstDiagnosticLine(diagnostic string) string {
	for _, line := range strings.Split(diagnostic, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return "no diagnostic output"
}
