package globelogix

const (
	// INVALID_ARGUMENT_ERROR_CODE represents an error for invalid input arguments.
	INVALID_ARGUMENT_ERROR_CODE = 3
	// NOT_FOUND_ERROR_CODE represents an error for a resource not being found.
	NOT_FOUND_ERROR_CODE = 5
	// ALREADY_EXISTS_ERROR_CODE represents an error for a resource or run that already exists.
	ALREADY_EXISTS_ERROR_CODE = 6
	// PERMISSION_DENIED_ERROR_CODE represents an error for insufficient permissions.
	PERMISSION_DENIED_ERROR_CODE = 7
	// FAILED_PRECONDITION_ERROR_CODE represents an error for a failed precondition.
	FAILED_PRECONDITION_ERROR_CODE = 9
	// INTERNAL_ERROR_CODE represents an internal server error.
	INTERNAL_ERROR_CODE = 13
	// UNAVAILABLE_ERROR_CODE represents a dependency that cannot be reached.
	UNAVAILABLE_ERROR_CODE = 14
)
