package ordering

import "errors"

// Таксономия ошибок движка упорядочивания.
var (
	ErrValidation             = errors.New("validation error")
	ErrScopeViolation         = errors.New("scope violation")
	ErrCycleDetected          = errors.New("cycle detected")
	ErrNotFound               = errors.New("not found")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrStorageFailure         = errors.New("storage failure")
	ErrForbidden              = errors.New("forbidden")
)

// Retryable сообщает, имеет ли смысл повторить запрос с тем же итоговым порядком.
func Retryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrStorageFailure)
}

// Code — машинный код ошибки для ответа API.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrScopeViolation):
		return "scope_violation"
	case errors.Is(err, ErrCycleDetected):
		return "cycle_detected"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConcurrentModification):
		return "concurrent_modification"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	default:
		return "storage_failure"
	}
}
