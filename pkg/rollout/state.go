package rollout

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/util/validation"
)

// Phase is a state of the rollout state machine:
//
//	PreCheck -> Stage[0..n-1] -> PostValidate -> Done
//
// with RollingBack -> Failed reachable from every phase after PreCheck.
type Phase string

const (
	PhasePreCheck     Phase = "PreCheck"
	PhaseStage        Phase = "Stage"
	PhasePostValidate Phase = "PostValidate"
	PhaseRollingBack  Phase = "RollingBack"
	PhaseDone         Phase = "Done"
	PhaseFailed       Phase = "Failed"
)

// DeploymentState is owned by the Orchestrator for the lifetime of one rollout.
// It is never persisted: a killed process leaves the last applied split and
// workload behind for an operator or a manual rollback to clean up.
type DeploymentState struct {
	Phase             Phase
	CurrentStageIndex int
	// ConsecutiveViolations counts violating checks in a row within the
	// current stage. Any passing check resets it to 0, which is how transient
	// violations are tolerated.
	ConsecutiveViolations int32
	DeploymentID          string
	StartTime             time.Time
}

var invalidLabelChars = regexp.MustCompile(`[^a-z0-9._-]+`)

// NewDeploymentID derives the id that tags every object of one rollout. The
// result is a valid Kubernetes label value.
func NewDeploymentID(service, version string, start time.Time) string {
	id := fmt.Sprintf("%s-%s-%d", service, version, start.Unix())
	id = invalidLabelChars.ReplaceAllString(strings.ToLower(id), "-")
	if len(id) > validation.LabelValueMaxLength {
		id = id[len(id)-validation.LabelValueMaxLength:]
	}
	return strings.Trim(id, "-_.")
}
