package common

import "errors"

// Business logic errors
var (
	// General errors
	ErrNotFound  = errors.New("resource not found")
	ErrForbidden = errors.New("forbidden")

	// Auth errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")

	// Validation errors (입력값 오류, 변경 전에 거부)
	ErrValidationFailed   = errors.New("validation failed")
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	ErrInvalidPoolConfig  = errors.New("invalid pool config")

	// Listing errors
	ErrListingNotFound    = errors.New("listing not found")
	ErrListingNotEligible = errors.New("listing not eligible for group buy")
	ErrListingUnavailable = errors.New("listing unavailable")
	ErrIllegalTransition  = errors.New("illegal listing status transition")

	// Pool errors
	ErrPoolNotFound      = errors.New("pool not found")
	ErrPoolExpired       = errors.New("pool expired")
	ErrAlreadyJoined     = errors.New("already joined")
	ErrPoolFull          = errors.New("pool full")
	ErrPoolAlreadyFilled = errors.New("pool already filled")

	// Purchase errors
	ErrPurchaseNotFound = errors.New("purchase record not found")
	ErrInvalidState     = errors.New("invalid purchase state")

	// Concurrency errors (낙관적 잠금 충돌, 재시도 소진)
	ErrConflict = errors.New("concurrent update conflict")

	// Infrastructure errors
	ErrUnavailable = errors.New("service unavailable")
)

// ErrorKind 에러 분류
type ErrorKind string

const (
	KindValidation     ErrorKind = "validation"
	KindNotFound       ErrorKind = "not_found"
	KindForbidden      ErrorKind = "forbidden"
	KindStateConflict  ErrorKind = "state_conflict"
	KindConcurrency    ErrorKind = "concurrency"
	KindUnauthorized   ErrorKind = "unauthorized"
	KindInfrastructure ErrorKind = "infrastructure"
)

type errorEntry struct {
	kind   ErrorKind
	status int
	code   string
}

// errors.Is 로 순서대로 매칭
var errorTable = []struct {
	err  error
	info errorEntry
}{
	{ErrInvalidCoordinates, errorEntry{KindValidation, 400, "INVALID_COORDINATES"}},
	{ErrInvalidPoolConfig, errorEntry{KindValidation, 400, "INVALID_POOL_CONFIG"}},
	{ErrValidationFailed, errorEntry{KindValidation, 400, "VALIDATION_FAILED"}},
	{ErrListingNotFound, errorEntry{KindNotFound, 404, "LISTING_NOT_FOUND"}},
	{ErrPurchaseNotFound, errorEntry{KindNotFound, 404, "PURCHASE_NOT_FOUND"}},
	{ErrPoolNotFound, errorEntry{KindNotFound, 404, "POOL_NOT_FOUND"}},
	{ErrNotFound, errorEntry{KindNotFound, 404, "NOT_FOUND"}},
	{ErrForbidden, errorEntry{KindForbidden, 403, "FORBIDDEN"}},
	{ErrUnauthorized, errorEntry{KindUnauthorized, 401, "UNAUTHORIZED"}},
	{ErrInvalidToken, errorEntry{KindUnauthorized, 401, "INVALID_TOKEN"}},
	{ErrExpiredToken, errorEntry{KindUnauthorized, 401, "EXPIRED_TOKEN"}},
	{ErrListingNotEligible, errorEntry{KindStateConflict, 409, "LISTING_NOT_ELIGIBLE"}},
	{ErrListingUnavailable, errorEntry{KindStateConflict, 409, "LISTING_UNAVAILABLE"}},
	{ErrIllegalTransition, errorEntry{KindStateConflict, 409, "ILLEGAL_TRANSITION"}},
	{ErrPoolExpired, errorEntry{KindStateConflict, 409, "POOL_EXPIRED"}},
	{ErrAlreadyJoined, errorEntry{KindStateConflict, 409, "ALREADY_JOINED"}},
	{ErrPoolFull, errorEntry{KindStateConflict, 409, "POOL_FULL"}},
	{ErrPoolAlreadyFilled, errorEntry{KindStateConflict, 409, "POOL_ALREADY_FILLED"}},
	{ErrInvalidState, errorEntry{KindStateConflict, 409, "INVALID_STATE"}},
	{ErrConflict, errorEntry{KindConcurrency, 409, "CONFLICT"}},
	{ErrUnavailable, errorEntry{KindInfrastructure, 503, "SERVICE_UNAVAILABLE"}},
}

func lookup(err error) (errorEntry, bool) {
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			return e.info, true
		}
	}
	return errorEntry{}, false
}

// KindOf 에러 분류 반환 (알 수 없는 에러는 인프라 에러로 취급)
func KindOf(err error) ErrorKind {
	if entry, ok := lookup(err); ok {
		return entry.kind
	}
	return KindInfrastructure
}

// IsRetryable 호출자가 재시도해도 되는 에러인지
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindConcurrency, KindInfrastructure:
		return true
	default:
		return false
	}
}

// CodeOf 에러 코드 (POOL_FULL 등). 알 수 없는 에러면 false
func CodeOf(err error) (string, bool) {
	entry, ok := lookup(err)
	return entry.code, ok
}
