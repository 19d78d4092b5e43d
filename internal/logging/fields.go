package logging

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Actor, also the gin context keys set by the bearer middleware.
	FieldUsername = "username"

	// Realtime
	FieldConnID      = "conn_id"
	FieldRemoteAddr  = "remote_addr"
	FieldDisplayName = "display_name"
	FieldMessageID   = "message_id"
	FieldClients     = "clients"

	FieldService = "service"

	// Log type (for audit log)
	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)
