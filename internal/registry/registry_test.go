package registry_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/opsdesk/internal/registry"
	"github.com/agentoven/opsdesk/pkg/models"
)

func TestDefaultCatalogue(t *testing.T) {
	r := registry.Default()

	assert.Equal(t, []string{
		registry.ToolGetLogs,
		registry.ToolGetMetrics,
		registry.ToolDeployService,
		registry.ToolRollbackStaging,
		registry.ToolRollbackProduction,
		registry.ToolAuthenticateUser,
	}, r.Names())

	tool, ok := r.Get(registry.ToolDeployService)
	require.True(t, ok)
	assert.Equal(t, models.CategoryDeployment, tool.Category)
	assert.Len(t, r.ByCategory(models.CategoryRollback), 2)

	_, ok = r.Get("drop_database")
	assert.False(t, ok)
}

func TestNew_RejectsDuplicates(t *testing.T) {
	_, err := registry.New([]models.ToolMetadata{{Name: "a"}, {Name: "a"}})
	assert.Error(t, err)
}

func TestNew_RejectsBadPattern(t *testing.T) {
	_, err := registry.New([]models.ToolMetadata{{
		Name:       "a",
		Parameters: []models.ToolParameter{{Name: "x", Type: models.ParamString, Pattern: "(["}},
	}})
	assert.Error(t, err)
}

func TestValidate_UnknownTool(t *testing.T) {
	res := registry.Default().Validate("drop_database", nil)
	assert.False(t, res.Valid)
	assert.Equal(t, []string{"Unknown tool: drop_database"}, res.Errors)
}

func TestValidate_MissingEnvironment(t *testing.T) {
	res := registry.Default().Validate(registry.ToolDeployService, map[string]interface{}{
		"service_name": "user-service",
		"version":      "1.2.3",
	})
	assert.False(t, res.Valid)
	assert.Equal(t, []string{"Missing required parameter: environment"}, res.Errors)
}

func TestValidate_OneErrorPerMissingParameter(t *testing.T) {
	res := registry.Default().Validate(registry.ToolDeployService, map[string]interface{}{})
	assert.Equal(t, []string{
		"Missing required parameter: service_name",
		"Missing required parameter: version",
		"Missing required parameter: environment",
	}, res.Errors)
}

func TestValidate_CollectsEveryViolation(t *testing.T) {
	res := registry.Default().Validate(registry.ToolDeployService, map[string]interface{}{
		"service_name": "User_Service",
		"version":      "latest",
		"environment":  "qa",
		"force":        true,
		"dry_run":      false,
	})
	require.False(t, res.Valid)
	require.Len(t, res.Errors, 5)
	assert.Contains(t, res.Errors[0], "service_name does not match required pattern")
	assert.Contains(t, res.Errors[1], "version does not match required pattern")
	assert.Equal(t, "Parameter environment must be one of: staging, production", res.Errors[2])
	assert.Equal(t, "Unknown parameter: dry_run", res.Errors[3])
	assert.Equal(t, "Unknown parameter: force", res.Errors[4])
}

func TestValidate_Types(t *testing.T) {
	r := registry.Default()

	tests := []struct {
		name string
		tool string
		args map[string]interface{}
		want []string
	}{
		{
			name: "valid logs",
			tool: registry.ToolGetLogs,
			args: map[string]interface{}{"level": "error", "limit": float64(10)},
		},
		{
			name: "int limit accepted",
			tool: registry.ToolGetMetrics,
			args: map[string]interface{}{"limit": 5},
		},
		{
			name: "string for number",
			tool: registry.ToolGetLogs,
			args: map[string]interface{}{"limit": "ten"},
			want: []string{"Parameter limit must be of type number"},
		},
		{
			name: "below minimum",
			tool: registry.ToolGetLogs,
			args: map[string]interface{}{"limit": float64(0)},
			want: []string{"Parameter limit must be at least 1"},
		},
		{
			name: "above maximum",
			tool: registry.ToolGetMetrics,
			args: map[string]interface{}{"limit": float64(5000)},
			want: []string{"Parameter limit must be at most 1000"},
		},
		{
			name: "fractional limit",
			tool: registry.ToolGetLogs,
			args: map[string]interface{}{"limit": 2.5},
			want: []string{"Parameter limit must be a whole number"},
		},
		{
			name: "fractional and out of range",
			tool: registry.ToolGetMetrics,
			args: map[string]interface{}{"limit": 0.5},
			want: []string{"Parameter limit must be a whole number", "Parameter limit must be at least 1"},
		},
		{
			name: "number for string skips enum check",
			tool: registry.ToolGetLogs,
			args: map[string]interface{}{"level": float64(3)},
			want: []string{"Parameter level must be of type string"},
		},
		{
			name: "enum violation",
			tool: registry.ToolGetLogs,
			args: map[string]interface{}{"level": "fatal"},
			want: []string{"Parameter level must be one of: debug, info, warn, error"},
		},
		{
			name: "null treated as absent",
			tool: registry.ToolAuthenticateUser,
			args: map[string]interface{}{"session_token": nil},
			want: []string{"Missing required parameter: session_token"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Validate(tt.tool, tt.args)
			if len(tt.want) == 0 {
				assert.True(t, res.Valid, res.Errors)
				assert.Empty(t, res.Errors)
				return
			}
			assert.False(t, res.Valid)
			assert.Equal(t, tt.want, res.Errors)
		})
	}
}

func TestValidate_BooleanAndArray(t *testing.T) {
	r, err := registry.New([]models.ToolMetadata{{
		Name: "tag",
		Parameters: []models.ToolParameter{
			{Name: "force", Type: models.ParamBoolean},
			{Name: "tags", Type: models.ParamArray},
		},
	}})
	require.NoError(t, err)

	assert.True(t, r.Validate("tag", map[string]interface{}{"force": true, "tags": []interface{}{"a"}}).Valid)
	assert.True(t, r.Validate("tag", map[string]interface{}{"tags": []string{"a"}}).Valid)

	res := r.Validate("tag", map[string]interface{}{"force": "yes", "tags": "a,b"})
	assert.Equal(t, []string{
		"Parameter force must be of type boolean",
		"Parameter tags must be of type array",
	}, res.Errors)
}

func TestValidate_Rollback(t *testing.T) {
	r := registry.Default()
	ok := r.Validate(registry.ToolRollbackProduction, map[string]interface{}{
		"deployment_id": "deploy-abc123",
		"reason":        "error spike",
	})
	assert.True(t, ok.Valid)

	bad := r.Validate(registry.ToolRollbackStaging, map[string]interface{}{
		"deployment_id": "abc123",
		"reason":        "error spike",
	})
	require.Len(t, bad.Errors, 1)
	assert.True(t, strings.HasPrefix(bad.Errors[0], "Parameter deployment_id does not match"))
}

func TestMissingRequired(t *testing.T) {
	missing := registry.Default().MissingRequired(registry.ToolDeployService, map[string]interface{}{"version": "1.0.0"})
	names := make([]string, len(missing))
	for i, p := range missing {
		names[i] = p.Name
	}
	assert.Equal(t, []string{"service_name", "environment"}, names)
	assert.Nil(t, registry.Default().MissingRequired("nope", nil))
}

func TestToolDefinitions_CompileAsJSONSchema(t *testing.T) {
	defs := registry.ToolDefinitions(registry.Default().All())
	require.Len(t, defs, 6)

	for _, def := range defs {
		assert.Equal(t, "function", def.Type)

		// Round-trip through JSON so the compiler sees plain decoded values.
		raw, err := json.Marshal(def.Function.Parameters)
		require.NoError(t, err)
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
		require.NoError(t, err)

		c := jsonschema.NewCompiler()
		url := "mem://" + def.Function.Name + ".json"
		require.NoError(t, c.AddResource(url, doc))
		_, err = c.Compile(url)
		assert.NoError(t, err, def.Function.Name)
	}
}

func TestParameterSchema_AgreesWithValidate(t *testing.T) {
	tool, _ := registry.Default().Get(registry.ToolDeployService)
	raw, err := json.Marshal(registry.ParameterSchema(*tool))
	require.NoError(t, err)
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	require.NoError(t, err)

	c := jsonschema.NewCompiler()
	require.NoError(t, c.AddResource("mem://deploy.json", doc))
	sch, err := c.Compile("mem://deploy.json")
	require.NoError(t, err)

	good := map[string]interface{}{"service_name": "user-service", "version": "1.2.3", "environment": "staging"}
	assert.NoError(t, sch.Validate(good))

	missing := map[string]interface{}{"service_name": "user-service", "version": "1.2.3"}
	assert.Error(t, sch.Validate(missing))
}

func TestParameterSchema_IntegerLimit(t *testing.T) {
	tool, _ := registry.Default().Get(registry.ToolGetLogs)
	schema := registry.ParameterSchema(*tool)
	props := schema["properties"].(map[string]interface{})
	limit := props["limit"].(map[string]interface{})
	assert.Equal(t, "integer", limit["type"])

	raw, err := json.Marshal(schema)
	require.NoError(t, err)
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	require.NoError(t, err)
	c := jsonschema.NewCompiler()
	require.NoError(t, c.AddResource("mem://logs.json", doc))
	sch, err := c.Compile("mem://logs.json")
	require.NoError(t, err)

	assert.NoError(t, sch.Validate(map[string]interface{}{"limit": float64(20)}))
	assert.Error(t, sch.Validate(map[string]interface{}{"limit": 2.5}))
}
