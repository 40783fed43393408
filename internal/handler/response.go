package handler

import (
	"net/http"
	"regexp"

	"github.com/labstack/echo/v4"
)

// signedParamPattern matches CDN signature parameters embedded in error messages.
var signedParamPattern = regexp.MustCompile(`(?i)\b(sign|signature|token|t)=[^&\s"]+`)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Status  int    `json:"status"`
	Success string `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// resultsBody is the JSON shape of every successful catalog response.
type resultsBody struct {
	Status  int    `json:"status"`
	Success string `json:"success"`
	Results any    `json:"results"`
}

func writeError(c echo.Context, status int, message string, err error) error {
	body := errorBody{
		Status:  status,
		Success: "false",
		Message: message,
	}
	if err != nil {
		body.Error = sanitizeError(err)
	}
	return c.JSON(status, body)
}

func writeResults(c echo.Context, results any) error {
	return c.JSON(http.StatusOK, resultsBody{
		Status:  http.StatusOK,
		Success: "true",
		Results: results,
	})
}

// sanitizeError redacts signed URL parameters from error messages.
func sanitizeError(err error) string {
	return signedParamPattern.ReplaceAllString(err.Error(), "${1}=[REDACTED]")
}
