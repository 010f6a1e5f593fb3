package licitacion

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/pkg/errors"

	"github.com/trezcool/licita/core"
	"github.com/trezcool/licita/core/access"
)

var (
	errInvalidFields = errors.New("Datos inválidos")

	notNullText  = "no puede ser nulo"
	typeText     = "tipo de dato inválido"
	nullableFlds = map[string]bool{
		access.FieldParticipantesEstimados: true,
		access.FieldModalidadPreferida:     true,
		access.FieldNotas:                  true,
		access.FieldPublicacionImagenURL:   true,
	}
)

func (fu *FieldUpdate) Clean() {
	fu.NombreLicitacion = trimPtr(fu.NombreLicitacion)
	fu.EmailLicitacion = trimPtr(fu.EmailLicitacion, true /* lower */)
	fu.DuracionMinima = trimPtr(fu.DuracionMinima)
	fu.DuracionMaxima = trimPtr(fu.DuracionMaxima)
	fu.ModalidadPreferida = core.CleanStringPtr(fu.ModalidadPreferida)
	fu.Notas = core.CleanStringPtr(fu.Notas)
	fu.PublicacionImagenURL = core.CleanStringPtr(fu.PublicacionImagenURL)
}

// trimPtr cleans a required string, keeping blanks so that validation rejects them.
func trimPtr(s *string, lower ...bool) *string {
	if s == nil {
		return nil
	}
	cs := core.CleanString(*s, lower...)
	return &cs
}

func (fu FieldUpdate) value(field string) interface{} {
	switch field {
	case access.FieldNombre:
		return nullable(fu.NombreLicitacion)
	case access.FieldEmail:
		return nullable(fu.EmailLicitacion)
	case access.FieldMontoMinimo:
		return nullable(fu.MontoMinimo)
	case access.FieldMontoMaximo:
		return nullable(fu.MontoMaximo)
	case access.FieldTipoMoneda:
		return nullable(fu.TipoMoneda)
	case access.FieldDuracionMinima:
		return nullable(fu.DuracionMinima)
	case access.FieldDuracionMaxima:
		return nullable(fu.DuracionMaxima)
	case access.FieldParticipantesEstimados:
		return nullable(fu.ParticipantesEstimados)
	case access.FieldModalidadPreferida:
		return nullable(fu.ModalidadPreferida)
	case access.FieldNotas:
		return nullable(fu.Notas)
	case access.FieldPublicacionImagenURL:
		return nullable(fu.PublicacionImagenURL)
	}
	return nil
}

// decodeFields decodes and validates the allowed PATCH fields. It returns the columns to update and their sorted names.
func (svc *Service) decodeFields(lic Licitacion, raw RawFields) (FieldSet, []string, error) {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var flds []core.FieldError
	for _, k := range keys {
		if isNull(raw[k]) && !nullableFlds[k] {
			flds = append(flds, core.FieldError{Field: k, Error: notNullText})
		}
	}
	if len(flds) > 0 {
		return nil, nil, core.NewValidationError(errInvalidFields, flds...)
	}

	body, err := json.Marshal(raw)
	if err != nil {
		return nil, nil, errors.Wrap(err, "encoding fields")
	}
	var fu FieldUpdate
	if err = json.Unmarshal(body, &fu); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, nil, core.NewValidationError(errInvalidFields, core.FieldError{Field: typeErr.Field, Error: typeText})
		}
		return nil, nil, core.NewValidationError(errInvalidFields)
	}
	fu.Clean()
	if err = svc.validateStruct(fu); err != nil {
		return nil, nil, err
	}

	fields := make(FieldSet, len(keys))
	for _, k := range keys {
		fields[k] = fu.value(k)
	}

	montoMin, montoMax := lic.MontoMinimo, lic.MontoMaximo
	if v, ok := fields[access.FieldMontoMinimo].(float64); ok {
		montoMin = v
	}
	if v, ok := fields[access.FieldMontoMaximo].(float64); ok {
		montoMax = v
	}
	if montoMax < montoMin {
		return nil, nil, core.NewValidationError(errInvalidFields, core.FieldError{Field: access.FieldMontoMaximo, Error: errMontos.Error()})
	}
	return fields, keys, nil
}

func isNull(msg json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(msg), []byte("null"))
}
