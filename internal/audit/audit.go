// Package audit emite el rastro de eventos de seguridad: creación y
// verificación de links federados, consents confirmados, logins denegados.
//
// Hoy el sink es el logger estructurado bajo el nombre "audit"; los campos
// van tipados para que un colector downstream pueda filtrarlos sin parsear
// el mensaje.
package audit

import (
	"context"

	"go.uber.org/zap"

	"github.com/dropDatabas3/idbridge/internal/observability/logger"
)

// Event registra un evento de auditoría. Nunca falla ni bloquea: el rastro
// de audit no puede tirar el flujo de autenticación.
func Event(ctx context.Context, name string, fields ...zap.Field) {
	logger.From(ctx).Named("audit").Info(name, fields...)
}
