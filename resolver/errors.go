package resolver

import "fmt"

// NotFoundError is raised when none of the resolver's three lookup steps
// succeed. Code is always "MODULE_NOT_FOUND", matching spec §6.
type NotFoundError struct {
	// Name is the module specifier the caller asked for.
	Name string
	// From is the caller's path, relative to its own directory.
	From string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Cannot find module '%s' from '%s'", e.Name, e.From)
}

// Code implements the errext-style code accessor consumed by callers that
// want to branch on the failure kind without string matching.
func (e *NotFoundError) Code() string { return "MODULE_NOT_FOUND" }
