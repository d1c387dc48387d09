package chaterr

const (
	CodeNetworkConnectionFailed  = "NETWORK_CONNECTION_FAILED"
	CodeNetworkTimeout           = "NETWORK_TIMEOUT"
	CodeServiceUnavailable       = "NETWORK_SERVICE_UNAVAILABLE"
	CodeAuthTokenExpired         = "AUTH_TOKEN_EXPIRED"
	CodeAuthTokenInvalid         = "AUTH_TOKEN_INVALID"
	CodeAuthRequired             = "AUTH_REQUIRED"
	CodePermissionDenied         = "PERMISSION_DENIED"
	CodePermissionInsufficient   = "PERMISSION_INSUFFICIENT"
	CodeValidationInvalidParam   = "VALIDATION_INVALID_PARAMETER"
	CodeValidationMissingParam   = "VALIDATION_MISSING_PARAMETER"
	CodeValidationInvalidRequest = "VALIDATION_INVALID_REQUEST"
	CodeToolNotFound             = "TOOL_NOT_FOUND"
	CodeToolExecutionFailed      = "TOOL_EXECUTION_FAILED"
	CodeToolTimeout              = "TOOL_TIMEOUT"
	CodeDeploymentCritical       = "TOOL_PRODUCTION_FAILURE"
	CodeAIResponseInvalid        = "AI_RESPONSE_INVALID"
	CodeAIServiceUnavailable     = "AI_SERVICE_UNAVAILABLE"
	CodeAIRateLimited            = "AI_RATE_LIMITED"
	CodeConversationNotFound     = "CONVERSATION_NOT_FOUND"
	CodeConversationImport       = "CONVERSATION_IMPORT_FAILED"
	CodeUnknown                  = "UNKNOWN_ERROR"
)

// definition is one row of the catalogue.
type definition struct {
	Type        Type
	Severity    Severity
	Retryable   bool
	RetryAfter  int
	UserMessage string
	Suggestions []string
}

var catalogue = map[string]definition{
	// ── Network ─────────────────────────────────────────────
	CodeNetworkConnectionFailed: {
		Type: TypeNetwork, Severity: SeverityHigh, Retryable: true, RetryAfter: 5,
		UserMessage: "Unable to reach the control plane. Please check your connection.",
		Suggestions: []string{"Check your network connection", "Try again in a few seconds"},
	},
	CodeNetworkTimeout: {
		Type: TypeNetwork, Severity: SeverityMedium, Retryable: true, RetryAfter: 10,
		UserMessage: "The request took too long to complete.",
		Suggestions: []string{"Try again", "Request a smaller result set"},
	},
	CodeServiceUnavailable: {
		Type: TypeNetwork, Severity: SeverityHigh, Retryable: true, RetryAfter: 30,
		UserMessage: "The control plane is temporarily unavailable.",
		Suggestions: []string{"Wait a moment and try again"},
	},

	// ── Authentication ──────────────────────────────────────
	CodeAuthTokenExpired: {
		Type: TypeAuthentication, Severity: SeverityHigh,
		UserMessage: "Your session has expired. Please sign in again.",
		Suggestions: []string{"Sign out and sign back in"},
	},
	CodeAuthTokenInvalid: {
		Type: TypeAuthentication, Severity: SeverityHigh,
		UserMessage: "Your credentials are not valid. Please sign in again.",
		Suggestions: []string{"Sign in again to obtain a new token"},
	},
	CodeAuthRequired: {
		Type: TypeAuthentication, Severity: SeverityHigh,
		UserMessage: "You need to sign in to do that.",
		Suggestions: []string{"Sign in and retry"},
	},

	// ── Permission ──────────────────────────────────────────
	CodePermissionDenied: {
		Type: TypePermission, Severity: SeverityMedium,
		UserMessage: "You do not have permission to perform this action.",
		Suggestions: []string{"Ask an administrator for access"},
	},
	CodePermissionInsufficient: {
		Type: TypePermission, Severity: SeverityMedium,
		UserMessage: "Your role does not allow this operation in the requested environment.",
		Suggestions: []string{"Try the staging environment", "Ask an administrator for elevated access"},
	},

	// ── Validation ──────────────────────────────────────────
	CodeValidationInvalidParam: {
		Type: TypeValidation, Severity: SeverityLow,
		UserMessage: "Some of the parameters are invalid.",
		Suggestions: []string{"Check the parameter values and try again"},
	},
	CodeValidationMissingParam: {
		Type: TypeValidation, Severity: SeverityLow,
		UserMessage: "Some required information is missing.",
		Suggestions: []string{"Provide the missing parameters"},
	},
	CodeValidationInvalidRequest: {
		Type: TypeValidation, Severity: SeverityLow,
		UserMessage: "The request could not be understood.",
		Suggestions: []string{"Check the request format"},
	},

	// ── Tool execution ──────────────────────────────────────
	CodeToolNotFound: {
		Type: TypeToolExecution, Severity: SeverityMedium,
		UserMessage: "That operation is not available.",
		Suggestions: []string{"Ask what tools are available"},
	},
	CodeToolExecutionFailed: {
		Type: TypeToolExecution, Severity: SeverityMedium, Retryable: true, RetryAfter: 5,
		UserMessage: "The operation failed to complete.",
		Suggestions: []string{"Try again", "Check the service status"},
	},
	CodeToolTimeout: {
		Type: TypeToolExecution, Severity: SeverityMedium, Retryable: true, RetryAfter: 10,
		UserMessage: "The operation timed out.",
		Suggestions: []string{"Try again in a moment"},
	},
	CodeDeploymentCritical: {
		Type: TypeToolExecution, Severity: SeverityCritical, Retryable: true, RetryAfter: 60,
		UserMessage: "A production operation failed. Please contact the on-call engineer.",
		Suggestions: []string{"Check production health", "Consider a rollback"},
	},

	// ── AI response ─────────────────────────────────────────
	CodeAIResponseInvalid: {
		Type: TypeAIResponse, Severity: SeverityMedium, Retryable: true, RetryAfter: 3,
		UserMessage: "The assistant could not process that request.",
		Suggestions: []string{"Rephrase your request", "Try again"},
	},
	CodeAIServiceUnavailable: {
		Type: TypeAIResponse, Severity: SeverityHigh, Retryable: true, RetryAfter: 30,
		UserMessage: "The assistant is temporarily unavailable.",
		Suggestions: []string{"Try again shortly"},
	},
	CodeAIRateLimited: {
		Type: TypeAIResponse, Severity: SeverityMedium, Retryable: true, RetryAfter: 60,
		UserMessage: "Too many requests to the assistant. Please slow down.",
		Suggestions: []string{"Wait a minute before retrying"},
	},

	// ── Conversation ────────────────────────────────────────
	CodeConversationNotFound: {
		Type: TypeConversation, Severity: SeverityLow,
		UserMessage: "That conversation could not be found.",
		Suggestions: []string{"Start a new conversation"},
	},
	CodeConversationImport: {
		Type: TypeConversation, Severity: SeverityLow,
		UserMessage: "The conversation could not be imported.",
		Suggestions: []string{"Check the exported file"},
	},
}

var unknownDefinition = definition{
	Type: TypeUnknown, Severity: SeverityMedium, Retryable: true, RetryAfter: 5,
	UserMessage: "Something went wrong. Please try again.",
	Suggestions: []string{"Try again"},
}

// Known reports whether code is in the catalogue.
func Known(code string) bool {
	_, ok := catalogue[code]
	return ok
}
