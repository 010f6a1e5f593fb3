package echoapi

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/licita/core"
)

var (
	errUnauthorized    = echo.NewHTTPError(http.StatusUnauthorized, "Usuario no autenticado")
	errInvalidToken    = echo.NewHTTPError(http.StatusUnauthorized, "Token inválido o expirado")
	errTooManyRequests = echo.NewHTTPError(http.StatusTooManyRequests, "Demasiadas solicitudes, intente más tarde")
	errNotFound        = echo.NewHTTPError(http.StatusNotFound, "Recurso no encontrado")

	errInvalidBody = errors.New("Cuerpo de la solicitud inválido")
	errInvalidID   = core.NewValidationError(
		errors.New("Identificador inválido"),
		core.FieldError{Field: "id", Error: "debe ser un UUID válido"},
	)
	errInvalidAteID = core.NewValidationError(
		errors.New("Identificador de ATE inválido"),
		core.FieldError{Field: "ate_id", Error: "debe ser un UUID válido"},
	)
)

// errorResponse is the body of every error response.
type errorResponse struct {
	Error        string            `json:"error"`
	Campos       map[string]string `json:"campos,omitempty"`
	EstadoActual string            `json:"estado_actual,omitempty"`
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var resp errorResponse

		switch origErr := errors.Cause(err).(type) {
		case *echo.HTTPError:
			switch {
			case origErr == middleware.ErrJWTMissing:
				origErr = errUnauthorized
			case origErr.Code == http.StatusUnauthorized:
				origErr = errInvalidToken
			case origErr.Code == http.StatusNotFound:
				origErr = errNotFound
			}
			code = origErr.Code
			if msg, ok := origErr.Message.(string); ok {
				resp.Error = msg
			} else {
				resp.Error = http.StatusText(code)
			}
		case *core.ValidationError:
			code = http.StatusBadRequest
			if origErr.Unprocessable {
				code = http.StatusUnprocessableEntity
			}
			resp.Error = origErr.Error()
			if len(origErr.Fields) > 0 {
				resp.Campos = make(map[string]string, len(origErr.Fields))
				for _, fErr := range origErr.Fields {
					resp.Campos[fErr.Field] = fErr.Error
				}
			}
		case *core.NotFoundError:
			code = http.StatusNotFound
			resp.Error = origErr.Error()
		case *core.PermissionError:
			code = http.StatusForbidden
			resp.Error = origErr.Error()
		case *core.ConflictError:
			code = http.StatusConflict
			resp.Error = origErr.Error()
		case *core.InvalidStateError:
			code = http.StatusUnprocessableEntity
			resp.Error = origErr.Error()
			resp.EstadoActual = origErr.Estado
		default: // any other error is a server error
			code = http.StatusInternalServerError
			msg := "Error interno del servidor"
			resp.Error = msg

			args := []interface{}{errors.Wrap(err, msg), map[string]interface{}{
				"method": ctx.Request().Method,
				"path":   ctx.Request().URL.Path,
				"id":     ctx.Response().Header().Get(echo.HeaderXRequestID),
			}}
			if claims, cErr := getContextClaims(ctx); cErr == nil {
				args = append(args, claims.Principal())
			}
			logger.Error(msg, args...)

			if ctx.Echo().Debug {
				resp.Error = err.Error()
			}

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, resp)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}

// bindError turns a body binding failure into a validation error.
func bindError(err error) error {
	herr, ok := errors.Cause(err).(*echo.HTTPError)
	if !ok || herr.Code != http.StatusBadRequest {
		return errors.Wrap(err, "binding request")
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(herr.Internal, &typeErr) && typeErr.Field != "" {
		return core.NewValidationError(errInvalidBody, core.FieldError{Field: typeErr.Field, Error: "tipo de dato inválido"})
	}
	return core.NewValidationError(errInvalidBody)
}
