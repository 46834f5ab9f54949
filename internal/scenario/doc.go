// Package scenario compiles declarative flows and runs them one iteration
// at a time on behalf of a virtual user.
//
// A flow is a list of steps:
//
//   - call: one remote operation through transport.Client. The outcome is
//     classified by status (2xx is success) and recorded into the built-in
//     metrics plus the step's own trend, if bound. Values extracted from a
//     successful response become iteration variables and may be appended to
//     a shared pool.
//   - sleep: a fixed or uniformly random pause.
//   - pick: binds a random element of a shared pool to a variable, or runs
//     the otherwise steps when the pool is empty.
//   - branch: runs then steps when every if variable is bound and a random
//     draw falls under probability, else steps otherwise.
//   - group: a named sub-list whose wall time can feed a trend.
//
// A step whose inputs are missing (an unbound requires variable, or a
// template referencing one) is skipped rather than failing the iteration.
//
// Compiled flows are immutable and shared by every VU of a run. Executors
// are per VU and must not be used concurrently.
package scenario
