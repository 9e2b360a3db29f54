package janitor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const branchPrefix = "ai-fix/"

// BranchName derives the change-request branch from the external key. The
// result only depends on the key, so a retried attempt reuses the branch.
// When the key is not already a safe ref name, a short hash of the raw key
// is appended so distinct keys never share a branch.
func BranchName(externalKey string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.TrimSpace(externalKey) {
		ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '.'
		if ok {
			b.WriteRune(r)
			lastDash = false
			continue
		}
		if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}

	name := b.String()
	for strings.Contains(name, "..") {
		name = strings.ReplaceAll(name, "..", ".")
	}
	name = strings.Trim(name, "-.")
	if name == "" {
		name = "unknown"
	}
	if name != externalKey {
		sum := sha256.Sum256([]byte(externalKey))
		name += "-" + hex.EncodeToString(sum[:4])
	}
	return branchPrefix + name
}

// Step names a stage of a remediation attempt.
type Step string

const (
	StepReadFile          Step = "read_file"
	StepProposeFix        Step = "propose_fix"
	StepEnsureBranch      Step = "ensure_branch"
	StepCommitFile        Step = "commit_file"
	StepOpenChangeRequest Step = "open_change_request"
	StepRecovery          Step = "recovery"
)

// Collaborator returns the external service a step talks to.
func (s Step) Collaborator() string {
	switch s {
	case StepReadFile, StepEnsureBranch, StepCommitFile, StepOpenChangeRequest:
		return "source_control"
	case StepProposeFix:
		return "generative_fix"
	case StepRecovery:
		return "orchestrator"
	default:
		return "unknown"
	}
}

// StepError is the failure of one attempt step.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// ErrorMetadata is the structured blob stored on ERROR events.
type ErrorMetadata struct {
	Step         Step   `json:"step"`
	Collaborator string `json:"collaborator"`
	Message      string `json:"message"`
	Cause        string `json:"cause,omitempty"`
	Permanent    bool   `json:"permanent"`
	TimedOut     bool   `json:"timed_out"`
}

func NewErrorMetadata(step Step, err error, cause string) ErrorMetadata {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return ErrorMetadata{
		Step:         step,
		Collaborator: step.Collaborator(),
		Message:      msg,
		Cause:        cause,
		Permanent:    IsPermanent(err),
		TimedOut:     errors.Is(err, context.DeadlineExceeded),
	}
}

// SuccessRate is merged / (merged + rejected), or 0 with no outcomes yet.
func SuccessRate(merged int64, rejected int64) float64 {
	total := merged + rejected
	if total <= 0 {
		return 0
	}
	return float64(merged) / float64(total)
}
