package broker

import (
	"errors"

	"github.com/mkarasev/oms-saga/internal/domain"
)

// permanentError помечает ошибку обработчика как неустранимую: повторная
// доставка даст тот же результат, сообщение должно уйти в DLQ сразу.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the consumer dead-letters the delivery instead of
// scheduling a retry.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// permanentSentinels — доменные ошибки, детерминированные по содержимому
// сообщения: повтор не поможет.
var permanentSentinels = []error{
	domain.ErrOrderIDRequired,
	domain.ErrProductIDRequired,
	domain.ErrReservationQtyInvalid,
}

// IsPermanent reports whether err should route the delivery to the DLQ
// without a retry.
func IsPermanent(err error) bool {
	var p *permanentError
	if errors.As(err, &p) {
		return true
	}
	for _, sentinel := range permanentSentinels {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
