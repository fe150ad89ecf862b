package testbed

import (
	"errors"
	"fmt"
)

// ErrTransport — общий признак сбоя обмена с ITB. Проверяется через errors.Is.
var ErrTransport = errors.New("testbed transport error")

// TransportError — неуспешный ответ или непригодное для разбора тело.
type TransportError struct {
	Op         string // "start" или "status"
	StatusCode int    // 0, если ответа не было
	Cause      error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("testbed %s: http %d: %v", e.Op, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("testbed %s: %v", e.Op, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }
