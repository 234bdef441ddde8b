package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/vimalrajaj/MediSyncv/internal/platform/fhir"
)

// ErrorHandler renders errors as OperationOutcome under /fhir and as
// {"error": "..."} elsewhere.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code := http.StatusInternalServerError
		msg := "internal server error"
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if s, ok := he.Message.(string); ok {
				msg = s
			} else {
				msg = http.StatusText(code)
			}
		} else {
			logger.Error().Err(err).Str("request_id", GetRequestID(c)).Msg("unhandled error")
		}

		var werr error
		if strings.HasPrefix(c.Request().URL.Path, "/fhir") {
			werr = c.JSON(code, fhir.NewOperationOutcome(fhir.IssueSeverityError, issueType(code), msg))
		} else {
			werr = c.JSON(code, map[string]string{"error": msg})
		}
		if werr != nil {
			logger.Error().Err(werr).Msg("failed to write error response")
		}
	}
}

func issueType(status int) string {
	switch {
	case status == http.StatusNotFound:
		return fhir.IssueTypeNotFound
	case status == http.StatusMethodNotAllowed:
		return fhir.IssueTypeNotSupported
	case status == http.StatusGatewayTimeout:
		return fhir.IssueTypeTimeout
	case status >= 500:
		return fhir.IssueTypeException
	}
	return fhir.IssueTypeInvalid
}
