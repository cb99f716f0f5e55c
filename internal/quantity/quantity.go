// Package quantity converts raw job inputs into required material
// quantities. Every function clamps negative inputs to zero: estimating
// callers feed transient, half-edited form values and must never crash
// or go negative.
package quantity

import "math"

// Required inflates the entered quantity by a waste percentage and rounds
// up to a whole unit. A waste percentage at or below zero is treated as
// zero waste.
func Required(total, wastePct float64) int {
	if total <= 0 {
		return 0
	}
	if wastePct < 0 {
		wastePct = 0
	}
	return int(math.Ceil(total * (1 + wastePct/100)))
}

// Posts returns the post count for a run of fence. The +1 is the
// terminating end post, a domain rule rather than an off-by-one.
func Posts(required, spacingFt int) int {
	if required <= 0 {
		return 0
	}
	if spacingFt < 1 {
		spacingFt = 1
	}
	return ceilDiv(required, spacingFt) + 1
}

// Rolls returns how many fabric rolls cover the required footage.
func Rolls(required, rollLengthFt int) int {
	if required <= 0 {
		return 0
	}
	if rollLengthFt < 1 {
		rollLengthFt = 1
	}
	return ceilDiv(required, rollLengthFt)
}

// CrewDays schedules whole crew-days for the required amount of work at a
// daily production rate. The same shape serves linear-footage rates and
// minutes-per-day rates; required and rate just have to share a unit.
func CrewDays(required, ratePerDay int) int {
	if required <= 0 {
		return 0
	}
	if ratePerDay < 1 {
		ratePerDay = 1
	}
	return ceilDiv(required, ratePerDay)
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
