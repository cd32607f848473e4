package model

import "fmt"

// PageRequest selects one page of a listing. Page and Amount are either
// both unset (zero: return everything) or both positive. Any other
// combination is a caller error.
type PageRequest struct {
	Page   int
	Amount int
}

// Enabled reports whether a window was requested.
func (p PageRequest) Enabled() bool {
	return p.Page != 0 || p.Amount != 0
}

// Validate rejects half-set or non-positive windows.
func (p PageRequest) Validate() error {
	if !p.Enabled() {
		return nil
	}
	if p.Page <= 0 || p.Amount <= 0 {
		return fmt.Errorf("%w: page=%d amount=%d (both must be positive, or both unset)", ErrInvalidInput, p.Page, p.Amount)
	}
	return nil
}

// Window converts the request to a skip/limit pair. Call only after
// Validate on an enabled request.
func (p PageRequest) Window() (skip, limit int) {
	return (p.Page - 1) * p.Amount, p.Amount
}
