// Package run orchestrates plan execution: one logical control thread per
// run, advancing the plan graph in topological order, checkpointing at
// every suspension point, and exposing the pause/resume/step/breakpoint
// control surface.
//
// Several independent runs may execute concurrently; they share nothing
// but read-only plan definitions. Within one run there is no parallelism,
// so the repository needs no locking.
package run
