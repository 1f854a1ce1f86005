// Package tools is the single subprocess boundary used by the build driver,
// source positioning, and simulation.
//
// Ownership boundary:
// - command description and rendering
//
// - local execution with captured and optionally tee'd output
//
// - exit code classification
package tools
