package services

import "errors"

// Error taxonomy shared by the service layer. Handlers map these onto HTTP
// responses; anything not in this list is treated as an internal error.
var (
	// ErrNotFound means a referenced course/module/lesson/user does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrNotEnrolled means a progress operation referenced a user/course pair
	// without an enrollment.
	ErrNotEnrolled = errors.New("user is not enrolled in this course")

	// ErrForbiddenLesson means the lesson does not belong to the referenced course.
	ErrForbiddenLesson = errors.New("lesson does not belong to this course")

	// ErrAuthMismatch means the identity on a payment event does not match the
	// authenticated caller.
	ErrAuthMismatch = errors.New("payment session does not belong to the authenticated user")

	// ErrBadEvent means a malformed webhook payload or failed signature check.
	ErrBadEvent = errors.New("malformed or unverifiable payment event")

	// ErrConflict means a unique key (slug, checkout session id, module position)
	// is already taken.
	ErrConflict = errors.New("duplicate unique key")

	// ErrUpstream means a payment-gateway call failed or timed out. No partial
	// state is written when this is returned.
	ErrUpstream = errors.New("payment gateway unavailable")
)
