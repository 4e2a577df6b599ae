package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/rryowa/authsession/internal/service"
	"github.com/rryowa/authsession/internal/util"
)

type errorResponse struct {
	Reason  string       `json:"reason"`
	Details []FieldError `json:"details,omitempty"`
}

func ErrorHandler(log *zap.SugaredLogger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, body := classifyError(err)
		if status >= http.StatusInternalServerError {
			log.Errorw("HTTP error", "error", err, "uri", c.Request().RequestURI)
		}

		if err := c.JSON(status, body); err != nil {
			log.Errorw("failed to write json response", "error", err)
		}
	}
}

func classifyError(err error) (int, errorResponse) {
	var (
		valErr       ValidationError
		refreshErr   *service.RefreshError
		apiErr       *service.APIError
		transportErr *service.TransportError
		respErr      util.ResponseError
		he           *echo.HTTPError
	)

	switch {
	case errors.As(err, &valErr):
		return http.StatusBadRequest, errorResponse{Reason: "one or more fields failed validation", Details: valErr.Errors}
	case errors.As(err, &refreshErr):
		return http.StatusUnauthorized, errorResponse{Reason: "session expired, please sign in again"}
	case errors.As(err, &apiErr):
		reason := apiErr.Detail
		if reason == "" {
			reason = http.StatusText(apiErr.StatusCode)
		}
		return apiErr.StatusCode, errorResponse{Reason: reason}
	case errors.As(err, &transportErr):
		return http.StatusBadGateway, errorResponse{Reason: "upstream unavailable"}
	case errors.As(err, &respErr):
		return respErr.Status, errorResponse{Reason: respErr.Msg}
	case errors.As(err, &he):
		return he.Code, errorResponse{Reason: fmt.Sprint(he.Message)}
	default:
		return http.StatusInternalServerError, errorResponse{Reason: "internal server error"}
	}
}
