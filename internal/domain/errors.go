package domain

import "fmt"

// ContractViolationError marks issue payloads that break the data contract
// (impossible timestamps, missing required fields). The ETL skips and counts
// the offending issue instead of failing the cycle.
type ContractViolationError struct {
	IssueKey string
	Reason   string
}

func (e *ContractViolationError) Error() string {
	return fmt.Sprintf("issue %s violates data contract: %s", e.IssueKey, e.Reason)
}

func ContractViolation(issueKey, format string, args ...any) *ContractViolationError {
	return &ContractViolationError{IssueKey: issueKey, Reason: fmt.Sprintf(format, args...)}
}
