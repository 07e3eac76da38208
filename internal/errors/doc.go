// Package errors provides the sentinel errors shared by the intake pipeline.
//
// Callers match them with errors.Is after wrapping:
//
//	return fmt.Errorf("opening audit file %s: %w", path, errors.ErrAuditLog)
//
// The process exit code never distinguishes categories; the audit log text
// and the stderr message do.
package errors
