package permissions_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/opsdesk/internal/permissions"
	"github.com/agentoven/opsdesk/internal/registry"
	"github.com/agentoven/opsdesk/pkg/models"
)

func names(tools []models.ToolMetadata) []string {
	out := make([]string, len(tools))
	for i, t := range tools {
		out[i] = t.Name
	}
	return out
}

func TestFromClaims_Roles(t *testing.T) {
	admin := permissions.FromClaims([]string{"admin"}, nil)
	for _, p := range models.AllPermissions {
		assert.True(t, admin.Has(p), p)
	}

	dev := permissions.FromClaims([]string{"Developer"}, nil)
	assert.True(t, dev.DeployStaging)
	assert.False(t, dev.DeployProduction)
	assert.False(t, dev.RollbackProduction)

	devops := permissions.FromClaims([]string{"devops"}, nil)
	assert.True(t, devops.DeployProduction)
	assert.False(t, devops.RollbackProduction)

	assert.Equal(t, models.UserPermissions{}, permissions.FromClaims([]string{"intern"}, nil))
}

func TestFromClaims_ExplicitPermissionsUnion(t *testing.T) {
	p := permissions.FromClaims([]string{"viewer"}, []string{"deploy:staging", "rollback_production", "bogus"})
	assert.True(t, p.ReadLogs, "role default kept")
	assert.True(t, p.DeployStaging)
	assert.True(t, p.RollbackProduction)
	assert.False(t, p.DeployProduction)
}

func TestFilterTools_ReadLogsOnly(t *testing.T) {
	p := models.UserPermissions{ReadLogs: true}
	got := permissions.FilterTools(p, registry.Default().All())
	assert.Equal(t, []string{registry.ToolGetLogs}, names(got))
}

func TestFilterTools_HidesProductionRollback(t *testing.T) {
	p := permissions.FromClaims([]string{"developer"}, nil)
	got := names(permissions.FilterTools(p, registry.Default().All()))

	assert.Contains(t, got, registry.ToolRollbackStaging)
	assert.Contains(t, got, registry.ToolDeployService)
	assert.NotContains(t, got, registry.ToolRollbackProduction)
}

func TestCapabilityMap(t *testing.T) {
	caps := permissions.CapabilityMap(models.UserPermissions{DeployProduction: true}, registry.Default().All())
	assert.True(t, caps[registry.ToolDeployService])
	assert.False(t, caps[registry.ToolGetLogs])
	assert.Len(t, caps, 6)
}

func TestAuthorize_DeployIsContextual(t *testing.T) {
	deploy, ok := registry.Default().Get(registry.ToolDeployService)
	require.True(t, ok)
	p := models.UserPermissions{DeployStaging: true}

	assert.NoError(t, permissions.Authorize(p, *deploy, map[string]interface{}{"environment": "staging"}))
	assert.Error(t, permissions.Authorize(p, *deploy, map[string]interface{}{"environment": "production"}))
	assert.NoError(t, permissions.Authorize(p, *deploy, map[string]interface{}{}), "missing environment is left to validation")
	assert.Error(t, permissions.Authorize(models.UserPermissions{}, *deploy, map[string]interface{}{}))
}

func TestEffectivePermission(t *testing.T) {
	deploy, _ := registry.Default().Get(registry.ToolDeployService)
	logs, _ := registry.Default().Get(registry.ToolGetLogs)

	assert.Equal(t, models.PermDeployProduction, permissions.EffectivePermission(*deploy, map[string]interface{}{"environment": "production"}))
	assert.Equal(t, "", permissions.EffectivePermission(*deploy, map[string]interface{}{"environment": "qa"}))
	assert.Equal(t, models.PermReadLogs, permissions.EffectivePermission(*logs, nil))
}
