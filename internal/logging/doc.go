// Package logging provides the leveled, colored diagnostics printed by the
// submit, feedback and lssub commands.
//
// All diagnostics go to stderr: stdout is reserved for feedback output
// produced by project helpers.
//
//	log := logging.Logger{Verbose: verbose, Debug: debug}
//	log.Warnf("Deadline has passed; was %s", when)
package logging
