package registry

import "github.com/agentoven/opsdesk/pkg/models"

const (
	ToolGetLogs            = "get_logs"
	ToolGetMetrics         = "get_metrics"
	ToolDeployService      = "deploy_service"
	ToolRollbackStaging    = "rollback_staging"
	ToolRollbackProduction = "rollback_production"
	ToolAuthenticateUser   = "authenticate_user"
)

// PermissionDeploy is the contextual permission of deploy_service. It is
// resolved per invocation from the requested environment.
const PermissionDeploy = "deploy"

const (
	patternServiceName  = `^[a-z][a-z0-9-]{1,62}$`
	patternSemver       = `^\d+\.\d+\.\d+(-[0-9A-Za-z.-]+)?$`
	patternDeploymentID = `^deploy-[A-Za-z0-9-]+$`
)

func bound(v float64) *float64 { return &v }

// builtinTools is the static catalogue in presentation order.
var builtinTools = []models.ToolMetadata{
	{
		Name:               ToolGetLogs,
		Description:        "Retrieve recent log entries from the control plane, optionally filtered by level",
		Category:           models.CategoryLogs,
		RequiredPermission: models.PermReadLogs,
		Parameters: []models.ToolParameter{
			{
				Name:        "level",
				Type:        models.ParamString,
				Description: "Minimum log level to return",
				Enum:        []string{"debug", "info", "warn", "error"},
				Example:     "error",
			},
			{
				Name:        "limit",
				Type:        models.ParamNumber,
				Integer:     true,
				Description: "Maximum number of entries to return",
				Minimum:     bound(1),
				Maximum:     bound(1000),
				Example:     50,
			},
		},
		Examples: []string{
			"Show me the latest error logs",
			"Get the last 20 log entries",
		},
		ErrorCodes: map[string]string{
			"LOGS_UNAVAILABLE": "The log service is unavailable",
		},
	},
	{
		Name:               ToolGetMetrics,
		Description:        "Retrieve current service metrics such as CPU, memory and request rates",
		Category:           models.CategoryMetrics,
		RequiredPermission: models.PermReadMetrics,
		Parameters: []models.ToolParameter{
			{
				Name:        "limit",
				Type:        models.ParamNumber,
				Integer:     true,
				Description: "Maximum number of data points to return",
				Minimum:     bound(1),
				Maximum:     bound(1000),
				Example:     100,
			},
		},
		Examples: []string{
			"How is the CPU usage looking?",
			"Show me the last 10 metric samples",
		},
		ErrorCodes: map[string]string{
			"METRICS_UNAVAILABLE": "The metrics service is unavailable",
		},
	},
	{
		Name:               ToolDeployService,
		Description:        "Deploy a version of a service to staging or production",
		Category:           models.CategoryDeployment,
		RequiredPermission: PermissionDeploy,
		Parameters: []models.ToolParameter{
			{
				Name:        "service_name",
				Type:        models.ParamString,
				Required:    true,
				Description: "Name of the service to deploy",
				Pattern:     patternServiceName,
				Example:     "user-service",
			},
			{
				Name:        "version",
				Type:        models.ParamString,
				Required:    true,
				Description: "Semantic version to deploy",
				Pattern:     patternSemver,
				Example:     "1.2.3",
			},
			{
				Name:        "environment",
				Type:        models.ParamString,
				Required:    true,
				Description: "Target environment",
				Enum:        []string{"staging", "production"},
				Example:     "staging",
			},
		},
		Examples: []string{
			"Deploy user-service 1.2.3 to staging",
			"Release payment-api version 2.0.0 to production",
		},
		ErrorCodes: map[string]string{
			"DEPLOY_CONFLICT": "A deployment for this service is already in progress",
			"DEPLOY_FAILED":   "The deployment failed health checks",
		},
	},
	{
		Name:               ToolRollbackStaging,
		Description:        "Roll back a staging deployment to its previous version",
		Category:           models.CategoryRollback,
		RequiredPermission: models.PermRollbackStaging,
		Parameters:         rollbackParameters(),
		Examples: []string{
			"Roll back deploy-abc123 in staging because tests are failing",
		},
		ErrorCodes: map[string]string{
			"DEPLOYMENT_NOT_FOUND": "No staging deployment with that id",
		},
	},
	{
		Name:               ToolRollbackProduction,
		Description:        "Roll back a production deployment to its previous version",
		Category:           models.CategoryRollback,
		RequiredPermission: models.PermRollbackProduction,
		Parameters:         rollbackParameters(),
		Examples: []string{
			"Roll back deploy-xyz789 in production due to elevated error rates",
		},
		ErrorCodes: map[string]string{
			"DEPLOYMENT_NOT_FOUND": "No production deployment with that id",
		},
	},
	{
		Name:               ToolAuthenticateUser,
		Description:        "Verify a user session token with the control plane",
		Category:           models.CategoryAuthentication,
		RequiredPermission: models.PermAuthenticateUser,
		Parameters: []models.ToolParameter{
			{
				Name:        "session_token",
				Type:        models.ParamString,
				Required:    true,
				Description: "Session token to verify",
			},
		},
		Examples: []string{
			"Check whether my session is still valid",
		},
		ErrorCodes: map[string]string{
			"TOKEN_INVALID": "The session token was rejected",
		},
	},
}

func rollbackParameters() []models.ToolParameter {
	return []models.ToolParameter{
		{
			Name:        "deployment_id",
			Type:        models.ParamString,
			Required:    true,
			Description: "Identifier of the deployment to roll back",
			Pattern:     patternDeploymentID,
			Example:     "deploy-abc123",
		},
		{
			Name:        "reason",
			Type:        models.ParamString,
			Required:    true,
			Description: "Why the rollback is needed",
			Example:     "Elevated error rate after release",
		},
	}
}
