package licitacion

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/licita/core"
)

var (
	// errors
	ErrNotFound        = core.NewNotFoundError("Licitación no encontrada")
	ErrAteNotFound     = errors.New("ate not found")
	ErrStateConflict   = errors.New("estado changed concurrently")
	ErrNumeroTaken     = errors.New("numero_licitacion already exists")
	ErrNoFields        = core.NewValidationError(errors.New("No se proporcionaron campos válidos para actualizar"))
	ErrNoTimelineDates = core.NewUnprocessableError(errors.New("No se proporcionaron fechas para actualizar"))
	ErrNoAteFields     = core.NewValidationError(errors.New("No se proporcionaron campos de la ATE para actualizar"))
	ErrAteNoEncontrada = core.NewNotFoundError("ATE no encontrada")
)

// Repository is the Bid Record Store. Implementations must make every method called from
// within InTx's callback part of the same transaction.
type Repository interface {
	// InTx runs fn in a transaction. The transaction is committed when fn returns nil, rolled back otherwise.
	// In a transaction GetLicitacion locks the row until the end of the transaction.
	InTx(ctx context.Context, fn func(repo Repository) error) error

	GetLicitacion(ctx context.Context, id string) (Licitacion, error)
	// QueryLicitaciones returns one page of the licitaciones matching the filter and the total match count.
	QueryLicitaciones(ctx context.Context, filter QueryFilter) ([]Licitacion, int, error)
	// LastNumero returns the highest numero_licitacion starting with `prefix` ("" when none).
	LastNumero(ctx context.Context, prefix string) (string, error)
	// CreateLicitacion returns ErrNumeroTaken when numero_licitacion is already in use.
	CreateLicitacion(ctx context.Context, lic Licitacion) (Licitacion, error)
	// UpdateLicitacion applies `fields` and bumps updated_at, without any state condition.
	UpdateLicitacion(ctx context.Context, id string, fields FieldSet) (Licitacion, error)
	// UpdateLicitacionInState applies `fields` only if the row is still in `estado`.
	// It returns ErrStateConflict when no row matched.
	UpdateLicitacionInState(ctx context.Context, id string, estado Estado, fields FieldSet) (Licitacion, error)

	// GetAte, UpdateAte and DeleteAte return ErrAteNotFound when `ateID` does not belong to the licitación.
	GetAte(ctx context.Context, licitacionID, ateID string) (Ate, error)
	QueryAtes(ctx context.Context, licitacionID string) ([]Ate, error)
	// CountAtes counts the ATEs of the licitación whose `notNull` columns are all set.
	CountAtes(ctx context.Context, licitacionID string, notNull ...string) (int, error)
	CreateAte(ctx context.Context, ate Ate) (Ate, error)
	// UpdateAte applies `fields` (ATE columns) and bumps updated_at.
	UpdateAte(ctx context.Context, licitacionID, ateID string, fields FieldSet) (Ate, error)
	// DeleteAte removes the ATE and clears the consultas referencing it.
	DeleteAte(ctx context.Context, licitacionID, ateID string) error
	// SetWinner resets es_ganador on every ATE of the licitación, then sets it on `ateID`.
	// It returns ErrAteNotFound when `ateID` does not belong to the licitación.
	SetWinner(ctx context.Context, licitacionID, ateID string) error

	QueryConsultas(ctx context.Context, licitacionID string) ([]Consulta, error)
	CreateConsulta(ctx context.Context, cons Consulta) (Consulta, error)

	AppendHistorial(ctx context.Context, entry HistorialEntry) error

	// QueryFeriados returns the holidays (YYYY-MM-DD) of the years `from` to `to`, inclusive.
	QueryFeriados(ctx context.Context, from, to int) ([]string, error)
}
