package tcgo

import "github.com/google/uuid"

// sessionID is the per-process session identifier attached as a
// container label (org.testcontainers.session-id) so the reaper sidecar
// can sweep every container this process started if it dies abnormally.
// Generated once at first use.
var sessionID = uuid.NewString()

// SessionID returns this process's reaper session id.
func SessionID() string { return sessionID }

// sessionLabels returns the label set every container started through
// Run carries.
func sessionLabels() map[string]string {
	return map[string]string{
		"org.testcontainers":            "true",
		"org.testcontainers.session-id": sessionID,
		"org.testcontainers.lang":       "go",
	}
}
