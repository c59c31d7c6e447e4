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

var (
	errUnauthorized       = domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	errForbidden          = domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	errNotFound           = domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	errInvalidTarget      = domainError(http.StatusBadRequest, "INVALID_TARGET", "Invalid target", nil)
	errInvalidAttachments = domainError(http.StatusBadRequest, "INVALID_ATTACHMENTS", "Attachments must be your own uploads", nil)
	errInvalidReaction    = domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Unsupported reaction type", nil)
	errInvalidParent      = domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Parent comment belongs to another target", nil)
	errFocusHidden        = domainError(http.StatusForbidden, "FORBIDDEN", "Comment is not visible", nil)
)

func suspendedError(reason string) *DomainError {
	var details any
	if reason != "" {
		details = map[string]string{"reason": reason}
	}
	return domainError(http.StatusForbidden, "SUSPENDED", "Account suspended", details)
}

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", message, details)
}
