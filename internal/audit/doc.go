// Package audit writes the shared, append-only request log.
//
// The log lives at <submissionsRoot>/audit.log and is shared by every
// concurrent invocation. A writer holds an exclusive flock for the whole
// request, so records from different requests never interleave. Each
// record is one line:
//
//	2024-01-15 10:30:00 User alice initiated submission request on project 3, dir ./p3 (really /home/alice/p3)
//
// Every request that starts logging ends with exactly one terminal record
// (see Session), whichever path it leaves by.
package audit
