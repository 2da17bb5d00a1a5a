package wire

import "encoding/json"

// Envelope is the minimal shape every request frame shares: enough to
// learn which command it is before decoding the rest.
type Envelope struct {
	Command string `json:"command"`
}

// SubmitRequest is the `submit` command frame: a client-chosen job_id, the
// operation to run, and that operation's arguments.
type SubmitRequest struct {
	Command       string `json:"command"`
	JobID         string `json:"job_id"`
	Operation     string `json:"operation"`
	SQL           string `json:"sql,omitempty"`
	Params        []any  `json:"params,omitempty"`
	TableName     string `json:"table_name,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`

	// SchemaDefinition and BackupDir are sync_schema-only arguments.
	SchemaDefinition []string `json:"schema_definition,omitempty"`
	BackupDir        string   `json:"backup_dir,omitempty"`

	ClientVersion string `json:"client_version,omitempty"`
}

// PollRequest is the `poll` command frame.
type PollRequest struct {
	Command string `json:"command"`
	JobID   string `json:"job_id"`
}

// DeleteRequest is the `delete` command frame.
type DeleteRequest struct {
	Command string `json:"command"`
	JobID   string `json:"job_id"`
}

// StatusRequest is the `status` command frame; it takes no arguments
// beyond the command itself.
type StatusRequest struct {
	Command string `json:"command"`
}

// Response is the single response envelope shape every command replies
// with; fields are optional depending on which command produced it.
type Response struct {
	Success bool            `json:"success"`
	JobID   string          `json:"job_id,omitempty"`
	Status  string          `json:"status,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`

	// Status-command-only fields (health/progress introspection).
	// PendingJobs counts every job the worker still holds, whatever its
	// status: completed and failed jobs count until deleted or swept.
	DBPath          string   `json:"db_path,omitempty"`
	PendingJobs     int      `json:"pending_jobs,omitempty"`
	OpenTxns        int      `json:"open_transactions,omitempty"`
	UptimeSeconds   float64  `json:"uptime_seconds,omitempty"`
	WorkerVersion   string   `json:"worker_version,omitempty"`
	CurrentOp       string   `json:"current_operation,omitempty"`
	CurrentFile     string   `json:"current_file,omitempty"`
	ProgressPercent *float64 `json:"progress_percent,omitempty"`
}

// ResponseError is the structured error object a poll or status response
// carries on failure: {type, message, sql_preview}.
type ResponseError struct {
	Type       string `json:"type"`
	Message    string `json:"message"`
	SQLPreview string `json:"sql_preview,omitempty"`
}
