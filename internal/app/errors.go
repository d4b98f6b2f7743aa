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
	// Reason distinguishes causes that share one wire response, e.g. a
	// missing list versus a hidden one. Logged, never serialized.
	Reason string
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

// notFound denies with an identical body regardless of reason, so a
// caller cannot distinguish "does not exist" from "not yours to see".
func notFound(message, reason string) *DomainError {
	err := domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
	err.Reason = reason
	return err
}

func accessDenied(message string) *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", message, nil)
}

func conflict(message string, details any) *DomainError {
	return domainError(http.StatusConflict, "CONFLICT", message, details)
}

func invalid(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, details)
}

func unauthenticated(message string) *DomainError {
	return domainError(http.StatusUnauthorized, "UNAUTHORIZED", message, nil)
}

func expiredOrRevoked() *DomainError {
	return domainError(http.StatusUnauthorized, "REFRESH_INVALID", "Refresh token invalid", nil)
}
