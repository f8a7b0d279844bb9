package azcli

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/openlander/openlander/pkg/engine"
)

// Apply performs one deployment with `deployment group create`. A
// false ok carries the CLI's combined output as the diagnostic; err
// means the call itself could not run.
func (c *Client) Apply(ctx context.Context, target engine.ApplyTarget) (bool, string, error) {
	name := deploymentName()
	args, err := c.deploymentArgs("create", target)
	if err != nil {
		return false, "", err
	}
	args = append(args, "--name", name)

	res, err := c.invoke(ctx, c.applyTimeout, args...)
	if err != nil {
		return false, "", err
	}
	if res.exitCode != 0 {
		c.logger.Warn().
			Str("deployment", name).
			Str("resource_group", target.ResourceGroup).
			Int("exit_code", res.exitCode).
			Msg("Deployment failed")
		return false, res.diagnostic(), nil
	}

	c.logger.Info().
		Str("deployment", name).
		Str("resource_group", target.ResourceGroup).
		Str("region", target.Region).
		Msg("Deployment succeeded")
	return true, "", nil
}

// Validate checks the content with `deployment group validate` without
// deploying anything.
func (c *Client) Validate(ctx context.Context, target engine.ApplyTarget) (bool, string, error) {
	args, err := c.deploymentArgs("validate", target)
	if err != nil {
		return false, "", err
	}

	res, err := c.invoke(ctx, c.validateTimeout, args...)
	if err != nil {
		return false, "", err
	}
	if res.exitCode != 0 {
		return false, res.diagnostic(), nil
	}
	return true, "", nil
}

// deploymentArgs builds the shared argument list for the deployment
// group subcommands. Parameter precedence follows argument order, so
// the file goes first, the caller's inline values next, and the
// engine-controlled location and tier parameters last.
func (c *Client) deploymentArgs(action string, target engine.ApplyTarget) ([]string, error) {
	group := target.ResourceGroup
	if group == "" {
		group = c.defaults.ResourceGroup
	}
	if group == "" {
		return nil, fmt.Errorf("no resource group: target and CLI defaults are both empty")
	}

	if target.TemplatePath == "" {
		return nil, fmt.Errorf("no template path in apply target")
	}

	args := []string{
		"deployment", "group", action,
		"--resource-group", group,
		"--template-file", workspacePath(target.WorkspaceDir, target.TemplatePath),
		"--output", "json",
		"--only-show-errors",
	}

	if target.ParametersPath != "" {
		args = append(args, "--parameters", "@"+workspacePath(target.WorkspaceDir, target.ParametersPath))
	}

	for _, key := range sortedParameterKeys(target.Parameters) {
		args = append(args, "--parameters", key+"="+formatParameterValue(target.Parameters[key]))
	}

	region := target.Region
	if region == "" {
		region = c.defaults.Location
	}
	if region != "" {
		args = append(args, "--parameters", "location="+region)
	}

	services := make([]string, 0, len(target.Tiers))
	for service := range target.Tiers {
		services = append(services, service)
	}
	sort.Strings(services)
	for _, service := range services {
		args = append(args, "--parameters", tierParameterName(service)+"="+target.Tiers[service])
	}

	return args, nil
}

// workspacePath resolves a content path against the workspace root.
func workspacePath(workspaceDir, path string) string {
	if workspaceDir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workspaceDir, path)
}

// deploymentName generates a unique name for one create call.
func deploymentName() string {
	return "lander-" + uuid.New().String()[:8]
}

// tierParameterName maps a service name to the template parameter the
// tier rides in: app_service becomes appServiceTier.
func tierParameterName(service string) string {
	parts := strings.Split(service, "_")
	for i := 1; i < len(parts); i++ {
		if parts[i] == "" {
			continue
		}
		parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
	}
	return strings.Join(parts, "") + "Tier"
}

// formatParameterValue renders an inline parameter for key=value
// argument form. Scalars print bare; everything else is JSON.
func formatParameterValue(v interface{}) string {
	switch value := v.(type) {
	case string:
		return value
	case bool, int, int32, int64, float32, float64:
		return fmt.Sprint(value)
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprint(value)
		}
		return string(data)
	}
}

func sortedParameterKeys(params map[string]interface{}) []string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
