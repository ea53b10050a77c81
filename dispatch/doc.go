// Package dispatch is an embedded, single-process job dispatch engine.
//
// A Dispatcher owns job intake, a pool of workers, and a single control loop
// that reconciles submissions against completions. Callers submit work
// functions; the control loop orders them by priority and eligibility time and
// hands them to idle workers over a shared work channel. Workers report
// lifecycle transitions back on a status channel, and the control loop is the
// only writer of scheduling state, which keeps the engine lock-light.
//
// Hosts observe the engine through Finished()/Running(), Snapshot(), and the
// job lifecycle events published on an eventbus.Bus.
package dispatch
