// Package protocol defines the wire-level constants shared between the
// execution plane and its external consumers (gateway, dashboard, audit
// subscribers).
package protocol

// Event types emitted on the bus. SCREAMING_SNAKE on the wire.
const (
	EventRequestReceived       = "REQUEST_RECEIVED"
	EventResearchCreated       = "RESEARCH_CREATED"
	EventIntentResolved        = "INTENT_RESOLVED"
	EventToolCallProposed      = "TOOL_CALL_PROPOSED"
	EventPlanProposed          = "PLAN_PROPOSED"
	EventPolicyEvaluated       = "POLICY_EVALUATED"
	EventApprovalRequested     = "APPROVAL_REQUESTED"
	EventApprovalDecided       = "APPROVAL_DECIDED"
	EventToolExecStarted       = "TOOL_EXEC_STARTED"
	EventToolExecFinished      = "TOOL_EXEC_FINISHED"
	EventEgressRequest         = "EGRESS_REQUEST"
	EventEgressResult          = "EGRESS_RESULT"
	EventFsRead                = "FS_READ"
	EventFsWrite               = "FS_WRITE"
	EventBudgetUpdated         = "BUDGET_UPDATED"
	EventBudgetExceeded        = "BUDGET_EXCEEDED"
	EventAuditAppended         = "AUDIT_APPENDED"
	EventReportGenerated       = "REPORT_GENERATED"
	EventExportGenerated       = "EXPORT_GENERATED"
	EventDataDeletionInitiated = "DATA_DELETION_INITIATED"
	EventDataDeletionCompleted = "DATA_DELETION_COMPLETED"
	EventSystemError           = "SYSTEM_ERROR"
)

// Severity levels for event envelopes.
const (
	SeverityDebug    = "DEBUG"
	SeverityInfo     = "INFO"
	SeverityWarning  = "WARNING"
	SeverityError    = "ERROR"
	SeverityCritical = "CRITICAL"
)

// Intent types returned by /v1/intent.
const (
	IntentFastAction     = "fast_action"
	IntentComplexMission = "complex_mission"
)

// Agent result types returned by /v1/chat.
const (
	ResultText  = "text"
	ResultData  = "data"
	ResultError = "error"
)
