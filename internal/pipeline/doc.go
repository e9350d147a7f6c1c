// Package pipeline defines the stage handler contract and the registry of
// job-type stage sequences. The engine is agnostic to what a stage does; it
// only cares whether Execute returned an error and whether the stage reported
// itself complete.
package pipeline
