package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"

	canaryv1 "github.com/example/canary-deployer/pkg/apis/canary/v1alpha1"
	"github.com/example/canary-deployer/pkg/rollout"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// reporter prints human-readable rollout progress. Structured logs go to
// stderr separately.
type reporter struct {
	out     io.Writer
	plan    *canaryv1.CanaryPlanSpec
	started bool
}

func newReporter(out io.Writer, plan *canaryv1.CanaryPlanSpec) *reporter {
	return &reporter{out: out, plan: plan}
}

func (r *reporter) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format+"\n", args...)
}

func (r *reporter) PhaseChanged(s rollout.DeploymentState) {
	switch s.Phase {
	case rollout.PhasePreCheck:
		r.printf("%s %s %s %s", headerStyle.Render("Deploying"), r.plan.Service, r.plan.Version, dimStyle.Render("("+s.DeploymentID+")"))
		r.printf("%s", dimStyle.Render("pre-check: stable health and metrics backend"))
	case rollout.PhasePostValidate:
		r.printf("%s", dimStyle.Render("post-validation"))
	case rollout.PhaseRollingBack:
		r.printf("%s", warnStyle.Render("rolling back"))
	}
}

func (r *reporter) StageStarted(s rollout.DeploymentState, stage canaryv1.Stage) {
	r.started = true
	window := "no monitoring"
	if stage.Duration.Duration > 0 {
		window = "monitor " + stage.Duration.Duration.String()
	}
	r.printf("%s %s: %d%% canary, %s",
		headerStyle.Render(fmt.Sprintf("stage %d/%d", s.CurrentStageIndex+1, len(r.plan.Stages))),
		stage.Name, stage.TrafficPercent, window)
}

func (r *reporter) TrafficShifted(_ string, canaryPercent int32) {
	r.printf("  traffic  stable=%d%% canary=%d%%", 100-canaryPercent, canaryPercent)
}

func (r *reporter) CheckCompleted(s rollout.DeploymentState, c rollout.Check) {
	values := fmt.Sprintf("error_rate=%.2f%% p99=%.1fms", c.Snapshot.ErrorRate*100, c.Snapshot.P99LatencyMs)
	if len(c.Snapshot.Failed) > 0 {
		values += dimStyle.Render(fmt.Sprintf(" (unavailable: %v)", c.Snapshot.Failed))
	}
	if c.Violation == nil {
		r.printf("  check %d/%d %s %s", c.Iteration, c.Total, okStyle.Render("ok"), values)
		return
	}
	r.printf("  check %d/%d %s %s, %d consecutive", c.Iteration, c.Total,
		warnStyle.Render("violation"), c.Violation.Error(), s.ConsecutiveViolations)
}

func (r *reporter) RollbackCompleted(_ rollout.DeploymentState, report rollout.RollbackReport) {
	for _, step := range report.Steps {
		switch {
		case step.Skipped:
			r.printf("  %-15s %s", step.Name, dimStyle.Render("skipped"))
		case step.Err != nil:
			r.printf("  %-15s %s %v", step.Name, failStyle.Render("failed"), step.Err)
		default:
			r.printf("  %-15s %s", step.Name, okStyle.Render("done"))
		}
	}
	style := okStyle
	if report.Outcome != rollout.RollbackComplete {
		style = failStyle
	}
	r.printf("rollback %s", style.Render(string(report.Outcome)))
}

// Summary prints the final line of a rollout.
func (r *reporter) Summary(res rollout.Result, err error) {
	elapsed := time.Since(res.State.StartTime).Round(time.Second)
	if err == nil {
		r.printf("%s %s %s is serving %d%% of traffic after %s", okStyle.Render("✔"),
			r.plan.Service, r.plan.Version, r.plan.LastStage().TrafficPercent, elapsed)
		return
	}
	r.printf("%s deployment %s failed: %v", failStyle.Render("✘"), res.State.DeploymentID, err)
	switch {
	case !r.started:
		r.printf("%s", dimStyle.Render("nothing was changed"))
	case res.Rollback == nil:
		r.printf("%s", warnStyle.Render("auto rollback disabled: canary left in place, run `canary-deployer rollback "+r.plan.Service+"` to remove it"))
	}
}
