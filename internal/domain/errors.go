package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedRecord marks an input row whose required field could not be coerced.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrDanglingReference marks a record pointing at an entity that does not exist.
	ErrDanglingReference = errors.New("dangling reference")
	// ErrInsufficientCohortSize aborts a run that cannot produce a usable training set.
	ErrInsufficientCohortSize = errors.New("insufficient cohort size")
	// ErrMissingFeature marks a user lacking an expected feature.
	ErrMissingFeature = errors.New("missing feature")
	// ErrDimensionMismatch marks an embedding whose length disagrees with configuration.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrCollaboratorUnavailable wraps failures of external services.
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
	// ErrSchema marks an input file whose header lacks required columns.
	ErrSchema = errors.New("invalid input schema")
)

// Stage names used in record errors and the run report.
const (
	StageNormalize = "normalize"
	StageBuild     = "build"
	StageLabel     = "label"
	StageFeatures  = "features"
)

// RecordError describes a failure confined to a single record.
type RecordError struct {
	Stage  string
	Entity string
	Key    string
	Line   int
	Field  string
	Reason string
	Kind   error
}

func (e *RecordError) Error() string {
	var b strings.Builder
	b.WriteString(e.Stage)
	b.WriteString(": ")
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	} else {
		b.WriteString("record error")
	}
	if e.Entity != "" {
		fmt.Fprintf(&b, " %s", e.Entity)
	}
	if e.Key != "" {
		fmt.Fprintf(&b, " %s", e.Key)
	}
	if e.Line > 0 {
		fmt.Fprintf(&b, " (line %d)", e.Line)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " field %q", e.Field)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	return b.String()
}

func (e *RecordError) Unwrap() error {
	return e.Kind
}

// KindName returns the short taxonomy name for an error, or "other".
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrMalformedRecord):
		return "MalformedRecord"
	case errors.Is(err, ErrDanglingReference):
		return "DanglingReference"
	case errors.Is(err, ErrInsufficientCohortSize):
		return "InsufficientCohortSize"
	case errors.Is(err, ErrMissingFeature):
		return "MissingFeature"
	case errors.Is(err, ErrDimensionMismatch):
		return "DimensionMismatch"
	case errors.Is(err, ErrCollaboratorUnavailable):
		return "CollaboratorUnavailable"
	case errors.Is(err, ErrSchema):
		return "Schema"
	default:
		return "other"
	}
}

// Unavailable wraps err as a collaborator failure for the named service.
func Unavailable(service string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCollaboratorUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrCollaboratorUnavailable, service, err)
}
