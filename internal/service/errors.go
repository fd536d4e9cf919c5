package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/digkill/leadmail/internal/limiter"
	"github.com/digkill/leadmail/internal/llm"
	"github.com/digkill/leadmail/internal/output"
	"github.com/digkill/leadmail/internal/repository"
)

var (
	ErrUserNotFound       = repository.ErrUserNotFound
	ErrNoCredits          = repository.ErrNoCredits
	ErrTemplateNotFound   = repository.ErrTemplateNotFound
	ErrLeadNotFound       = repository.ErrLeadNotFound
	ErrDuplicatePurchase  = repository.ErrDuplicatePurchase
	ErrRateLimited        = limiter.ErrRateLimited
	ErrConcurrencyLimited = limiter.ErrConcurrencyLimited

	ErrFlaggedInput          = errors.New("prompt flagged by moderation")
	ErrFlaggedRendered       = errors.New("composed prompt flagged by moderation")
	ErrModerationUnavailable = llm.ErrModerationUnavailable
	ErrTimeout               = llm.ErrTimeout
	ErrProvider              = llm.ErrProvider
	ErrBadJSON               = output.ErrBadJSON
)

// ValidationError reports malformed client input.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "invalid request: " + strings.Join(e.Violations, "; ")
}

type TokenLimitError struct {
	Count int
	Limit int
}

func (e *TokenLimitError) Error() string {
	return fmt.Sprintf("Prompt exceeds token limit (%d/%d)", e.Count, e.Limit)
}

const (
	CodeOK                    = "OK"
	CodeInvalidRequest        = "INVALID_REQUEST"
	CodeRateLimit             = "RATE_LIMIT"
	CodeConcurrencyLimit      = "CONCURRENCY_LIMIT"
	CodeUserNotFound          = "USER_NOT_FOUND"
	CodeNoCredits             = "NO_CREDITS"
	CodeTemplateNotFound      = "TEMPLATE_NOT_FOUND"
	CodeLeadNotFound          = "LEAD_NOT_FOUND"
	CodeFlaggedInput          = "MODERATION_FLAGGED_INPUT"
	CodeFlaggedRendered       = "MODERATION_FLAGGED_RENDERED"
	CodeModerationUnavailable = "MODERATION_UNAVAILABLE"
	CodeTokenLimit            = "TOKEN_LIMIT"
	CodeTimeout               = "TIMEOUT"
	CodeProviderError         = "PROVIDER_ERROR"
	CodeBadJSON               = "MODEL_BAD_JSON"
	CodeBadSchema             = "MODEL_BAD_SCHEMA"
	CodeDuplicatePurchase     = "DUPLICATE_PURCHASE"
	CodePaymentsDisabled      = "PAYMENTS_DISABLED"
	CodeInternal              = "INTERNAL"
)

// ErrorCode classifies err into one of the Code constants. A nil error is
// CodeOK.
func ErrorCode(err error) string {
	var (
		validationErr *ValidationError
		tokenErr      *TokenLimitError
		schemaErr     *output.SchemaError
	)
	switch {
	case err == nil:
		return CodeOK
	case errors.As(err, &validationErr):
		return CodeInvalidRequest
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimit
	case errors.Is(err, ErrConcurrencyLimited):
		return CodeConcurrencyLimit
	case errors.Is(err, ErrUserNotFound):
		return CodeUserNotFound
	case errors.Is(err, ErrNoCredits):
		return CodeNoCredits
	case errors.Is(err, ErrTemplateNotFound):
		return CodeTemplateNotFound
	case errors.Is(err, ErrLeadNotFound):
		return CodeLeadNotFound
	case errors.Is(err, ErrFlaggedInput):
		return CodeFlaggedInput
	case errors.Is(err, ErrFlaggedRendered):
		return CodeFlaggedRendered
	case errors.Is(err, ErrModerationUnavailable):
		return CodeModerationUnavailable
	case errors.As(err, &tokenErr):
		return CodeTokenLimit
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrProvider):
		return CodeProviderError
	case errors.Is(err, ErrBadJSON):
		return CodeBadJSON
	case errors.As(err, &schemaErr):
		return CodeBadSchema
	case errors.Is(err, ErrDuplicatePurchase):
		return CodeDuplicatePurchase
	case errors.Is(err, ErrPaymentsDisabled):
		return CodePaymentsDisabled
	default:
		return CodeInternal
	}
}
