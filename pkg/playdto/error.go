package playdto

// DomainError is sent back when an inbound message cannot be handled.
type DomainError struct {
	Code    string
	Message string
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "play error"
}

var (
	ErrBadMessage  = DomainError{Code: "bad_message", Message: "malformed message"}
	ErrUnknownType = DomainError{Code: "unknown_type", Message: "unknown message type"}
)
