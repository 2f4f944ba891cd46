package app

import (
	"errors"
	"fmt"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"proppy/api/internal/eligibility"
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

func notFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

// precondition rejects an operation the document's current state forbids.
func precondition(message string) *DomainError {
	return domainError(http.StatusConflict, "PRECONDITION_FAILED", message, nil)
}

func publishBlocked(decision eligibility.Decision) *DomainError {
	details := map[string]any{"publishState": decision.State}
	if decision.Ceiling > 0 {
		details["ceiling"] = decision.Ceiling
	}
	return domainError(http.StatusPaymentRequired, "PUBLISH_BLOCKED", "Publishing is not allowed on the current plan", details)
}

// validationFailed keeps ozzo field errors as details; anything else is
// reported by its message.
func validationFailed(err error) *DomainError {
	var details any = err.Error()
	var fields validation.Errors
	if errors.As(err, &fields) {
		details = fields
	}
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid input", details)
}

func forbidden() *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}
