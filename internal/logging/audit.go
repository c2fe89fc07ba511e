package logging

// AuditEvent records an account-affecting operation: a signed offer or a
// submitted transaction
type AuditEvent struct {
	Operation string // intent and step, e.g. "take-loan/approval"
	Actor     string // account that signed
	Target    string // contract the step addressed
	Result    string // "success" or "failure"
	Hash      string // transaction or offer hash
	Details   string // failure, if any
}

// Audit logs an operation at Info level with an "audit" attribute so it can
// be filtered from regular application logs.
func Audit(event AuditEvent) {
	Logger().Info("audit",
		"audit", true,
		"operation", event.Operation,
		"actor", event.Actor,
		"target", event.Target,
		"result", event.Result,
		"hash", event.Hash,
		"details", event.Details,
	)
}
