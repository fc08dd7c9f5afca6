// Package download tracks and executes the transfer of catalog datasets to
// the local disk.
//
// # Model
//
// A [Registry] holds [Dataset] aggregates, each owning one [File] per file
// in the catalog. Files move through a small state machine:
//
//	CREATED -> READY -> DOWNLOADING -> FINISHED
//	                         |-> PAUSED | FAILED | UNAUTHORIZED | CHECKSUM_FAILED
//	any -> SKIPPED (Dataset.Skip), any -> CREATED (File.Reset)
//
// Transfers run on a [Submitter], normally a scheduler.Scheduler. Each
// chunk written is credited to both the file and its dataset, so a dataset's
// current size always equals the sum over its non-skipped files.
//
// # Resuming
//
// A paused file resumes with a Range request from its current size. If the
// data node ignores the range the file restarts from zero. Before any
// network I/O, a complete local copy whose checksum matches the catalog is
// accepted as is.
//
// # Authorization
//
// Requests go out anonymously first. When refused and a credential session
// is active, they are repeated with the session's client; otherwise the file
// becomes UNAUTHORIZED until the operator logs in and starts it again.
//
// # Persistence
//
// [Registry.Snapshot] and [Registry.Restore] round-trip all state through
// plain structs suitable for JSON.
package download
