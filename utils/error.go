package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

// ErrorStaleConflict is returned when a human resolves a conflict whose target
// booking has been changed (or removed) by a newer import since detection.
var ErrorStaleConflict = errors.New("conflict is stale: booking changed since detection")

// ErrorPropertyApprovalRequired halts an import pass before any rows are
// committed when a non-superuser references an unknown property.
var ErrorPropertyApprovalRequired = errors.New("import references unknown properties and requires approval")
