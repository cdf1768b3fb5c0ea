package app

import (
	"fmt"
	"net/http"
)

// DomainError is a caller-visible failure with a stable code, so the HTTP
// layer can render distinct states without inspecting messages.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func notFoundError(what string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", what+" not found", nil)
}

func unauthorizedError(message string) *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", message, nil)
}

// conflictError signals that the entity already has an open change request.
func conflictError() *DomainError {
	return domainError(http.StatusConflict, "PENDING_CHANGE_EXISTS",
		"A change request is already open for this entity", nil)
}

func invalidError(message string) *DomainError {
	return domainError(http.StatusBadRequest, "INVALID_SUBMISSION", message, nil)
}
