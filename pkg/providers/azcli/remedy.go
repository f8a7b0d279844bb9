package azcli

import (
	"context"

	"github.com/openlander/openlander/pkg/engine"
	"github.com/openlander/openlander/pkg/remedy"
)

// FixValidator re-validates an edited template through the platform
// CLI so the remediator can confirm a fix before the next attempt
// reaches the deployment API. It satisfies remedy.Validator.
type FixValidator struct {
	client        *Client
	workspaceDir  string
	resourceGroup string
}

// NewFixValidator builds a validator rooted at the workspace the run
// deploys from. resourceGroup may be empty when the CLI config
// supplies a default group.
func NewFixValidator(client *Client, workspaceDir, resourceGroup string) *FixValidator {
	return &FixValidator{
		client:        client,
		workspaceDir:  workspaceDir,
		resourceGroup: resourceGroup,
	}
}

// Validate runs a server-side validation of the fixed template. The
// returned diagnostic is the raw CLI output; err means validation
// itself could not run.
func (v *FixValidator) Validate(ctx context.Context, target remedy.Target) (bool, string, error) {
	return v.client.Validate(ctx, engine.ApplyTarget{
		ResourceGroup:  v.resourceGroup,
		WorkspaceDir:   v.workspaceDir,
		TemplatePath:   target.TemplatePath,
		ParametersPath: target.ParametersPath,
	})
}
