package model

// ErrValidation is returned by service methods when the caller supplies invalid
// input. Handlers map it to 400 Bad Request.
type ErrValidation struct{ Msg string }

func (e *ErrValidation) Error() string { return e.Msg }
