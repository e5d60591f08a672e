package logger

import (
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/idbridge/internal/util"
)

// ─── Campos de dominio ───

// AccountID campo para el identificador de cuenta.
func AccountID(v string) zap.Field {
	return zap.String("account_id", v)
}

// Email campo para email, siempre ofuscado: los logs no son lugar para PII.
func Email(v string) zap.Field {
	return zap.String("email", util.MaskEmail(v))
}

// Provider campo para el nombre de un upstream provider.
func Provider(v string) zap.Field {
	return zap.String("provider", v)
}

// Subject campo para el subject emitido por un provider.
func Subject(v string) zap.Field {
	return zap.String("subject", v)
}

// Prompt campo para el prompt decidido por el policy engine.
func Prompt(v string) zap.Field {
	return zap.String("prompt", v)
}

// Domain campo para el dominio de un email.
func Domain(v string) zap.Field {
	return zap.String("domain", v)
}

// Kind campo para el record kind del storage adapter.
func Kind(v string) zap.Field {
	return zap.String("kind", v)
}

// GrantID campo para el id de un grant.
func GrantID(v string) zap.Field {
	return zap.String("grant_id", v)
}

// ─── Campos genéricos ───

// Component identifica el componente que loguea.
func Component(v string) zap.Field {
	return zap.String("component", v)
}

// Op identifica la operación en curso.
func Op(v string) zap.Field {
	return zap.String("op", v)
}

// Layer identifica la capa (service, store, engine).
func Layer(v string) zap.Field {
	return zap.String("layer", v)
}

// Err campo de error (no-op si err es nil).
func Err(err error) zap.Field {
	if err == nil {
		return zap.Skip()
	}
	return zap.Error(err)
}

// Count campo entero genérico.
func Count(v int) zap.Field {
	return zap.Int("count", v)
}

// Duration campo de duración.
func Duration(v time.Duration) zap.Field {
	return zap.Duration("duration", v)
}

// Any campo arbitrario.
func Any(key string, v any) zap.Field {
	return zap.Any(key, v)
}
