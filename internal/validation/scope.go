// Package validation valida identificadores que cruzan el borde del
// servicio antes de persistirlos.
package validation

import "regexp"

// Reglas de nombre de scope:
//   - minúsculas; empieza y termina en [a-z0-9]
//   - en el medio se permite [a-z0-9:_.-]
//   - largo 1..64
//
// Válidos: profile, profile:read, doc.read, a_b-c:2
// Inválidos: "", :lead, trail:, "con espacio", UPPER, algo;raro
var scopeNameRe = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9:_.-]{0,62}[a-z0-9])?$`)

// ValidScopeName reporta si name es un nombre de scope aceptable.
func ValidScopeName(name string) bool {
	return scopeNameRe.MatchString(name)
}
