package checkin

import "fmt"

// Rejection codes. Each code is distinct so the caller can render
// differentiated guidance ("enable GPS" vs "you are not close enough").
const (
	CodeNotFound         = "not_found"
	CodeWindowNotOpen    = "window_not_open"
	CodeWindowClosed     = "window_closed"
	CodeScanLimitReached = "scan_limit_reached"
	CodeNotRegistered    = "not_registered"
	CodeAlreadyCheckedIn = "already_checked_in"
	CodeLocationRequired = "location_required"
	CodeOutOfRange       = "out_of_range"
)

// Rejection is a business-rule refusal of a scan. No state is mutated when a
// scan is rejected.
type Rejection struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("check-in rejected (%s): %s", r.Code, r.Message)
}

func reject(code, message string) *Rejection {
	return &Rejection{Code: code, Message: message}
}

func rejectWith(code, message string, details map[string]any) *Rejection {
	return &Rejection{Code: code, Message: message, Details: details}
}
