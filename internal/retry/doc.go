// Package retry runs operations under a bounded exponential backoff policy.
//
// Delays start at Config.InitialDelay, grow by Config.Multiplier after each
// failed attempt, and are capped at Config.MaxDelay. Optional jitter perturbs
// each delay by up to ten percent in either direction. Delays are whole
// milliseconds and never negative. Exhausting the attempt budget returns an
// *ExhaustedError that wraps the last underlying failure.
package retry
