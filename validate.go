package contract

// SelfValidator is implemented by typed requests that validate themselves
// after binding. Its error is returned from the handler unmodified.
type SelfValidator interface {
	Validate() error
}
