// Package permissions derives a caller's capability flags from role and
// permission claims and filters the tool catalogue down to what the caller
// may use.
package permissions

import (
	"fmt"
	"strings"

	"github.com/agentoven/opsdesk/internal/registry"
	"github.com/agentoven/opsdesk/pkg/models"
)

const (
	RoleAdmin     = "admin"
	RoleDevOps    = "devops"
	RoleDeveloper = "developer"
	RoleViewer    = "viewer"
)

var rolePermissions = map[string][]string{
	RoleAdmin: models.AllPermissions,
	RoleDevOps: {
		models.PermReadLogs,
		models.PermReadMetrics,
		models.PermDeployStaging,
		models.PermDeployProduction,
		models.PermRollbackStaging,
		models.PermAuthenticateUser,
	},
	RoleDeveloper: {
		models.PermReadLogs,
		models.PermReadMetrics,
		models.PermDeployStaging,
		models.PermRollbackStaging,
		models.PermAuthenticateUser,
	},
	RoleViewer: {
		models.PermReadLogs,
		models.PermReadMetrics,
		models.PermAuthenticateUser,
	},
}

// FromClaims derives permissions from role strings and explicit permission
// strings. The result is the union of both; an explicit permission never
// revokes a role default. Unknown strings are ignored.
func FromClaims(roles, perms []string) models.UserPermissions {
	var p models.UserPermissions
	for _, role := range roles {
		for _, name := range rolePermissions[strings.ToLower(strings.TrimSpace(role))] {
			p.Grant(name)
		}
	}
	for _, name := range perms {
		p.Grant(normalize(name))
	}
	return p
}

// normalize accepts both "read_logs" and "read:logs".
func normalize(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), ":", "_")
}

// CapabilityMap reports which tools the caller may discover, keyed by tool
// name.
func CapabilityMap(perms models.UserPermissions, tools []models.ToolMetadata) map[string]bool {
	caps := make(map[string]bool, len(tools))
	for _, t := range tools {
		caps[t.Name] = Allowed(perms, t)
	}
	return caps
}

// Allowed reports whether the tool is discoverable by the caller. A tool
// with a contextual permission is discoverable when any environment it can
// target is permitted; the environment itself is checked by Authorize.
func Allowed(perms models.UserPermissions, tool models.ToolMetadata) bool {
	if tool.RequiredPermission == registry.PermissionDeploy {
		return perms.DeployStaging || perms.DeployProduction
	}
	return perms.Has(tool.RequiredPermission)
}

// FilterTools keeps only the tools the caller may discover, in input order.
func FilterTools(perms models.UserPermissions, tools []models.ToolMetadata) []models.ToolMetadata {
	out := make([]models.ToolMetadata, 0, len(tools))
	for _, t := range tools {
		if Allowed(perms, t) {
			out = append(out, t)
		}
	}
	return out
}

// EffectivePermission resolves the flag one invocation needs. Deployment
// maps its environment argument to deploy_staging or deploy_production.
func EffectivePermission(tool models.ToolMetadata, args map[string]interface{}) string {
	if tool.RequiredPermission != registry.PermissionDeploy {
		return tool.RequiredPermission
	}
	env, _ := args["environment"].(string)
	switch env {
	case "production":
		return models.PermDeployProduction
	case "staging":
		return models.PermDeployStaging
	}
	return ""
}

// Authorize checks a single invocation. It returns a descriptive error when
// the caller lacks the effective permission for these arguments.
func Authorize(perms models.UserPermissions, tool models.ToolMetadata, args map[string]interface{}) error {
	need := EffectivePermission(tool, args)
	if need == "" {
		// Environment missing or invalid; validation reports it.
		if Allowed(perms, tool) {
			return nil
		}
		return fmt.Errorf("tool %s requires a deploy permission", tool.Name)
	}
	if !perms.Has(need) {
		return fmt.Errorf("tool %s requires the %s permission", tool.Name, need)
	}
	return nil
}
