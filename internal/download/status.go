package download

// Status is the lifecycle state of a file transfer or dataset download.
type Status string

const (
	StatusCreated        Status = "CREATED"
	StatusReady          Status = "READY"
	StatusDownloading    Status = "DOWNLOADING"
	StatusPaused         Status = "PAUSED"
	StatusFinished       Status = "FINISHED"
	StatusFailed         Status = "FAILED"
	StatusSkipped        Status = "SKIPPED"
	StatusUnauthorized   Status = "UNAUTHORIZED"
	StatusChecksumFailed Status = "CHECKSUM_FAILED"
)

// Terminal reports whether the scheduler will never act on a file in this
// state without operator intervention. FAILED and UNAUTHORIZED are not
// terminal: they wait for an explicit retry.
func (s Status) Terminal() bool {
	switch s {
	case StatusFinished, StatusSkipped, StatusChecksumFailed:
		return true
	}
	return false
}

// startable reports whether Prepare may be called from s.
func (s Status) startable() bool {
	switch s {
	case StatusCreated, StatusPaused, StatusUnauthorized:
		return true
	}
	return false
}

// ParseStatus converts a persisted status name.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusCreated, StatusReady, StatusDownloading, StatusPaused, StatusFinished,
		StatusFailed, StatusSkipped, StatusUnauthorized, StatusChecksumFailed:
		return st, true
	}
	return "", false
}
