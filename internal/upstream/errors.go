package upstream

import (
	"errors"
	"fmt"
)

// ErrStateMismatch el parámetro state del callback no coincide con el
// esperado. Se rechaza antes de tocar el token endpoint.
var ErrStateMismatch = errors.New("upstream: state mismatch")

// ErrMissingCode el callback no trae código de autorización.
var ErrMissingCode = errors.New("upstream: authorization code missing from callback")

// HTTPError es una respuesta no-2xx de un endpoint del provider. Conserva
// la operación, el status y el cuerpo para diagnóstico: los fallos upstream
// son opacos sin ellos.
type HTTPError struct {
	Op     string // "token" | "userinfo" | "discovery"
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream: %s endpoint returned %d: %s", e.Op, e.Status, e.Body)
}

// IsHTTPError extrae el *HTTPError de una cadena de errores, si lo hay.
func IsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	if errors.As(err, &he) {
		return he, true
	}
	return nil, false
}
