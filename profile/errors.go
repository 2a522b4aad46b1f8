package profile

import "fmt"

// EmptyInputError reports an aggregation invoked with no trade events.
type EmptyInputError struct {
	Op string
}

func (e *EmptyInputError) Error() string {
	return fmt.Sprintf("%s: no trade events supplied", e.Op)
}

// InvalidParameterError reports an aggregation parameter outside its domain.
type InvalidParameterError struct {
	Op    string
	Param string
	Value float64
	Want  string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("%s: parameter %s = %g, want %s", e.Op, e.Param, e.Value, e.Want)
}
