// Package schedule holds the delay policies used by the notification jobs.
//
// Every function here is pure: given a reference time and parameters it
// returns a delay, with no clock reads, no randomness of its own and no side
// effects. Jitter sources are passed in as a uniform [0,1) sample so callers
// (and tests) control the randomness.
package schedule
