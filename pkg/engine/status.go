package engine

import "fmt"

// Phase names a stage of a run.
type Phase string

const (
	// PhaseClassify builds the infrastructure exclusion set.
	PhaseClassify Phase = "classify"

	// PhaseAppStop quiesces managed applications.
	PhaseAppStop Phase = "apps.stop"

	// PhaseConverge drives guest VMs to powered off.
	PhaseConverge Phase = "converge"

	// PhaseInventory collects the cluster inventory.
	PhaseInventory Phase = "inventory"

	// PhaseReport writes and uploads the run report.
	PhaseReport Phase = "report"
)

// LoopPhase is a state of the shutdown convergence loop.
type LoopPhase string

const (
	// LoopSampling queries the powered-on guest VMs.
	LoopSampling LoopPhase = "sampling"

	// LoopDeciding chooses between converging, retrying and escalating.
	LoopDeciding LoopPhase = "deciding"

	// LoopRetrying has sent a shutdown and waits before sampling again.
	LoopRetrying LoopPhase = "retrying"

	// LoopConverged has observed no powered-on guest VMs.
	LoopConverged LoopPhase = "converged"

	// LoopEscalated has exhausted the shutdown budget.
	LoopEscalated LoopPhase = "escalated"
)

// IsTerminal returns true if the loop stops in this phase.
func (p LoopPhase) IsTerminal() bool {
	return p == LoopConverged || p == LoopEscalated
}

// Validate checks if the phase is valid.
func (p LoopPhase) Validate() error {
	switch p {
	case LoopSampling, LoopDeciding, LoopRetrying, LoopConverged, LoopEscalated:
		return nil
	default:
		return fmt.Errorf("invalid loop phase: %s", p)
	}
}

// Outcome is how a run ended.
type Outcome string

const (
	// OutcomeConverged means every guest VM reached powered off.
	OutcomeConverged Outcome = "converged"

	// OutcomeEscalated means the budget ran out with guest VMs still on.
	OutcomeEscalated Outcome = "escalated"

	// OutcomeFailed means a fatal error stopped the run.
	OutcomeFailed Outcome = "failed"
)

// AppOutcome is what happened to one managed application.
type AppOutcome string

const (
	// AppOutcomeSkipped means the application has no stop action.
	AppOutcomeSkipped AppOutcome = "skipped"

	// AppOutcomeRequested means the stop action was invoked and not awaited.
	AppOutcomeRequested AppOutcome = "requested"

	// AppOutcomeStopped means the application reported stopped.
	AppOutcomeStopped AppOutcome = "stopped"

	// AppOutcomeTimeout means the application did not stop within the poll budget.
	AppOutcomeTimeout AppOutcome = "stop-timeout"

	// AppOutcomeError means the application entered its error state.
	AppOutcomeError AppOutcome = "error"
)

// IsFailure returns true if the application did not quiesce.
func (o AppOutcome) IsFailure() bool {
	return o == AppOutcomeTimeout || o == AppOutcomeError
}
