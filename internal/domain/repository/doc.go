// Package repository define las interfaces de repositorio de dominio.
//
// Estas interfaces representan contratos de negocio, independientes del
// almacenamiento subyacente. Las implementaciones concretas viven en
// internal/store/pg.
//
// Convenciones:
//   - Context siempre es el primer parámetro
//   - Errores de dominio están en errors.go
//   - Los repositorios no toman locks: la unicidad de (provider, subject)
//     y de email se garantiza con unique indexes y los callers absorben
//     ErrConflict de forma idempotente
package repository
