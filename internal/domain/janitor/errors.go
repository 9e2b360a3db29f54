package janitor

import "errors"

var (
	ErrInvalidStatus     = errors.New("invalid issue status")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrExternalKeyEmpty  = errors.New("external issue key is required")

	ErrAttemptInFlight = errors.New("remediation attempt already in flight")
	ErrNotRemediable   = errors.New("issue is not in a remediable status")

	// Collaborator outcomes. Adapters wrap these so the orchestrator can
	// classify failures without knowing the backing service.
	ErrFileNotFound = errors.New("file not found in repository")
	ErrAccessDenied = errors.New("access denied by collaborator")
	ErrFixUnchanged = errors.New("proposed fix does not change the file")
	ErrEmptyFix     = errors.New("generative service returned no content")
)

// IsPermanent reports input errors that retrying cannot fix.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrFileNotFound) || errors.Is(err, ErrAccessDenied)
}
