// Package engine implements the powerdown run: an orderly shutdown of every
// guest VM on a cluster that leaves its infrastructure VMs running.
//
// # Overview
//
// A run has three phases, executed once each and in order by the
// Orchestrator:
//
//  1. Classify - build the ExclusionSet of infrastructure VMs (Classifier)
//  2. Apps stop - invoke each managed application's stop action and wait
//     for it to report stopped (AppStopDriver)
//  3. Converge - shut down guest VMs until none are left on, escalating to
//     forced power-off when the attempt budget runs out (ConvergenceLoop)
//
// The result is a Report carrying the exclusion set, application outcomes,
// every command sent and the event timeline of the run.
//
// # Exclusions
//
// A VM is excluded when one of its NICs carries the management plane's
// address, when it backs a file server, or when a protection policy names
// it. The set is computed once and never changes during the loop. No member
// of it is ever the target of a command.
//
// # Convergence
//
// The loop alternates between sampling and deciding:
//
//	SAMPLING -> DECIDING -> CONVERGED            (no guest VMs on)
//	                     -> RETRYING -> SAMPLING (attempts < budget)
//	                     -> ESCALATED            (budget spent)
//
// With a budget of N the loop samples N+1 times and sends at most N
// graceful shutdowns before escalating. The wait after each shutdown
// follows a jittered exponential backoff and honors context cancellation.
//
// Escalation is an outcome, not an error: Run returns a nil error and the
// report's Outcome is OutcomeEscalated. Callers that need a distinct exit
// status map it to ErrEscalated.
//
// # Errors
//
// Every query or command failure stops the run. Errors are returned as
// *RunError with an ErrorClass (transport, parse, api, config, command,
// cancelled) and the Phase they happened in:
//
//	report, err := orch.Run(ctx)
//	var runErr *engine.RunError
//	if errors.As(err, &runErr) && runErr.Class == engine.ErrorClassTransport {
//		// cluster unreachable
//	}
//
// # Telemetry
//
// Components log through the run's telemetry.Logger, update its
// Prometheus metrics, open one span per phase and publish events stamped
// with the run ID carried by the context (see ContextWithRunID).
package engine
