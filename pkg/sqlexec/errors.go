package sqlexec

// QueryExecutionError is returned when the dataset engine rejects an allowed query.
type QueryExecutionError struct {
	Message string
	Err     error
}

func (e *QueryExecutionError) Error() string {
	return "SQLite error: " + e.Message
}

func (e *QueryExecutionError) Unwrap() error {
	return e.Err
}

func newExecutionError(err error) *QueryExecutionError {
	return &QueryExecutionError{Message: err.Error(), Err: err}
}
