package api

import (
	"errors"
	"net/http"

	"github.com/digkill/leadmail/internal/output"
	"github.com/digkill/leadmail/internal/service"
)

const (
	codeUnauthorized = "UNAUTHORIZED"
	codeForbidden    = "FORBIDDEN"
)

type errorResponse struct {
	Error   string   `json:"error"`
	Code    string   `json:"code,omitempty"`
	Details []string `json:"details,omitempty"`
}

type errorClass struct {
	status  int
	message string
}

// errorClasses maps service error codes onto HTTP. An empty message means the
// error text itself is shown to the client.
var errorClasses = map[string]errorClass{
	service.CodeInvalidRequest:        {http.StatusBadRequest, "Invalid request"},
	service.CodeRateLimit:             {http.StatusTooManyRequests, "Too many requests. Please wait a moment and try again."},
	service.CodeConcurrencyLimit:      {http.StatusTooManyRequests, "Too many active generations. Please wait for current ones to finish."},
	service.CodeUserNotFound:          {http.StatusNotFound, "User not found"},
	service.CodeNoCredits:             {http.StatusForbidden, "No credits left"},
	service.CodeTemplateNotFound:      {http.StatusNotFound, ""},
	service.CodeLeadNotFound:          {http.StatusNotFound, "Lead not found"},
	service.CodeFlaggedInput:          {http.StatusBadRequest, "The provided prompt was flagged by moderation. Please revise and try again."},
	service.CodeFlaggedRendered:       {http.StatusBadRequest, "The composed prompt was flagged by moderation. Please adjust inputs and try again."},
	service.CodeModerationUnavailable: {http.StatusServiceUnavailable, "Moderation service unavailable. Please try again later."},
	service.CodeTokenLimit:            {http.StatusBadRequest, ""},
	service.CodeTimeout:               {http.StatusGatewayTimeout, "Generation took too long. Please try again."},
	service.CodeProviderError:         {http.StatusBadGateway, "The model provider returned an error. Please try again."},
	service.CodeBadJSON:               {http.StatusBadGateway, "The model returned malformed output. Please try again."},
	service.CodeBadSchema:             {http.StatusUnprocessableEntity, "The model output failed validation. Please try again."},
	service.CodeDuplicatePurchase:     {http.StatusConflict, "Purchase already processed"},
	service.CodePaymentsDisabled:      {http.StatusServiceUnavailable, "Payments are not configured"},
}

// writeServiceError renders err as the JSON error envelope. Unclassified
// errors are logged and answered with fallback and a 500.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	code := service.ErrorCode(err)
	class, ok := errorClasses[code]
	if !ok {
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: fallback})
		return
	}

	resp := errorResponse{Error: class.message, Code: code, Details: details(err)}
	if resp.Error == "" {
		resp.Error = err.Error()
	}
	if class.status >= http.StatusInternalServerError {
		s.log.Warn("request failed", "method", r.Method, "path", r.URL.Path, "code", code, "err", err)
	}
	s.writeJSON(w, class.status, resp)
}

func details(err error) []string {
	var (
		validationErr *service.ValidationError
		schemaErr     *output.SchemaError
	)
	switch {
	case errors.As(err, &validationErr):
		return validationErr.Violations
	case errors.As(err, &schemaErr):
		return schemaErr.Violations
	default:
		return nil
	}
}

func (s *Server) badRequest(w http.ResponseWriter, message string) {
	s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: message, Code: service.CodeInvalidRequest})
}
