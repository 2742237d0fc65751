package game

// Scoring rewards speed: a correct answer scores base points scaled by the
// remaining time fraction, with a floor so any correct answer beats zero.
// Incorrect and absent answers score zero.
const (
	basePoints       = 1000
	minCorrectPoints = 500

	// Free-text answers graded at or above this (out of 10) count correct.
	correctGradeThreshold = 6
)

// Points computes the award for a correct answer submitted with
// timeRemaining seconds left of a timerSeconds round.
func Points(timeRemaining, timerSeconds float64) int {
	frac := 0.0
	if timerSeconds > 0 {
		frac = timeRemaining / timerSeconds
	}
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	pts := int(basePoints * (0.5 + 0.5*frac))
	if pts < minCorrectPoints {
		pts = minCorrectPoints
	}
	return pts
}

// GradedPoints scales the award by a 0-10 grade from the evaluation
// collaborator. A passing grade keeps the correct-answer floor.
func GradedPoints(grade int, timeRemaining, timerSeconds float64) (correct bool, pts int) {
	if grade < correctGradeThreshold {
		return false, 0
	}
	pts = Points(timeRemaining, timerSeconds) * grade / 10
	if pts < minCorrectPoints {
		pts = minCorrectPoints
	}
	return true, pts
}
