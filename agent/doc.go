// Package agent implements the orchestration engine that turns a natural
// language request against a git repository into a pull request.
//
// A run moves through a fixed sequence of phases: provision a sandbox,
// clone the repository, analyze its structure, plan a change, create a
// branch, implement the change through a bounded tool-calling loop,
// commit, then push and open a pull request. Verification mode splits
// the run at the commit boundary: the session and its live sandbox are
// parked in a process-wide Registry and a later Resume call picks the
// run back up to push and open the pull request.
//
// Progress streams outward as an ordered sequence of Events on a channel
// per run. The stream always terminates with a complete or error event,
// except when it suspends at pause_for_verification.
package agent
