package alignment

import "fmt"

// InsufficientMatchesError reports that too few matches survived the ratio
// test for a homography to be estimated.
type InsufficientMatchesError struct {
	Good int
	Min  int
}

func (e *InsufficientMatchesError) Error() string {
	return fmt.Sprintf("insufficient matches: %d good, need more than %d", e.Good, e.Min)
}
