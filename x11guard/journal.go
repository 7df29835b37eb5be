package x11guard

// Journaler describes an event logger.
type Journaler interface {
	Write(Event) error
}

// warn writes an EventWarning for err. Journal failures are dropped, since
// there is nowhere else to report them.
func warn(j Journaler, component string, err error) {
	j.Write(&EventWarning{
		Component: component,
		Error:     err.Error(),
	})
}
