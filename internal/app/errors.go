package app

import (
	"fmt"
	"net/http"
)

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

func errNotFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

func errForbidden(message string) *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", message, nil)
}

func errConflict(message string) *DomainError {
	return domainError(http.StatusConflict, "CONFLICT", message, nil)
}

func errAlreadyResolved(message string) *DomainError {
	return domainError(http.StatusConflict, "ALREADY_RESOLVED", message, nil)
}

func errInvalidTransition(message string, details any) *DomainError {
	return domainError(http.StatusConflict, "INVALID_TRANSITION", message, details)
}

func errValidation(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}
