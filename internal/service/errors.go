package service

import "errors"

var (
	// ErrAssessmentNotFound indicates the assessment does not exist.
	ErrAssessmentNotFound = errors.New("assessment not found")
	// ErrResponseNotFound indicates neither copy of a response exists.
	ErrResponseNotFound = errors.New("response not found")
	// ErrInvalidStatusTransition indicates a backwards or malformed review transition.
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	// ErrInvalidAnswerPayload indicates a submission or grade references unknown data.
	ErrInvalidAnswerPayload = errors.New("invalid answer payload")
	// ErrInvalidAssessment indicates an authoring payload breaks question rules.
	ErrInvalidAssessment = errors.New("invalid assessment")
	// ErrResponseIDTaken indicates a submitted response id belongs to another student.
	ErrResponseIDTaken = errors.New("response id already used by another student")
	// ErrResponseLocked indicates a resubmission would overwrite a reviewed response.
	ErrResponseLocked = errors.New("response already under review")
	// ErrDrawingRejected indicates a drawing payload is not an accepted image.
	ErrDrawingRejected = errors.New("drawing payload rejected")
)

// ErrMissingIdentity indicates an operation needs a caller identity that was not supplied.
var ErrMissingIdentity = errors.New("caller identity required")
