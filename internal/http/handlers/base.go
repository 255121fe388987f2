// Package handlers contains HTTP handler logic split by domain.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v5"
	"github.com/open-sspm/integration-hub/internal/connectors/connector"
	"github.com/open-sspm/integration-hub/internal/connectors/registry"
	"github.com/open-sspm/integration-hub/internal/integration"
	"github.com/open-sspm/integration-hub/internal/oauthstate"
	"github.com/open-sspm/integration-hub/internal/store"
	"github.com/open-sspm/integration-hub/internal/webhooks"
)

const (
	// ContextKeyRequestID stores the request id (X-Request-ID) for logging and client error references.
	ContextKeyRequestID = "request_id"

	// InternalErrorCode is a stable error code safe to return to clients.
	InternalErrorCode = "INTERNAL_ERROR"

	defaultMaxBodyBytes        = 1 << 20
	defaultMaxWebhookBodyBytes = 5 << 20
)

// Handlers groups all HTTP handlers and shared dependencies.
type Handlers struct {
	Store    store.Store
	Registry *registry.ConnectorRegistry
	States   oauthstate.Store
	Webhooks *webhooks.Manager
	Validate *validator.Validate
	Logger   *slog.Logger

	// SuccessRedirect receives the browser after a completed OAuth callback.
	// Empty answers the callback with JSON.
	SuccessRedirect string
	// MaxWebhookBody caps inbound webhook payloads in bytes.
	MaxWebhookBody int64
}

// ErrorResponse is the JSON body of every non-500 error.
type ErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter,omitempty"`
	RequestID  string `json:"requestId,omitempty"`
}

// HandleHealthz returns a simple health check response.
func (h *Handlers) HandleHealthz(c *echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// RenderError answers with a generic 500 body and logs the real error.
func (h *Handlers) RenderError(c *echo.Context, err error) error {
	requestID, _ := c.Get(ContextKeyRequestID).(string)
	path := ""
	if req := c.Request(); req != nil && req.URL != nil {
		path = req.URL.Path
	}
	method := ""
	if req := c.Request(); req != nil {
		method = req.Method
	}
	c.Logger().Error("http error",
		"request_id", requestID,
		"method", method,
		"path", path,
		"ip", c.RealIP(),
		"error", err,
	)

	msg := "Internal server error."
	if requestID != "" {
		msg = fmt.Sprintf("%s Reference: %s.", msg, requestID)
	}
	msg = fmt.Sprintf("%s Code: %s.", msg, InternalErrorCode)
	return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: InternalErrorCode, Message: msg, RequestID: requestID})
}

// RenderIntegrationError answers with the status mapped from the error kind.
// RateLimit errors also set Retry-After.
func RenderIntegrationError(c *echo.Context, err *integration.Error) error {
	status := integration.HTTPStatus(err)
	requestID, _ := c.Get(ContextKeyRequestID).(string)
	resp := ErrorResponse{Error: string(err.Kind), Message: PublicMessage(err), RequestID: requestID}
	if secs, ok := integration.RetryAfterOf(err); ok && secs > 0 {
		c.Response().Header().Set("Retry-After", fmt.Sprint(secs))
		resp.RetryAfter = secs
	}
	return c.JSON(status, resp)
}

// PublicMessage is the client-facing text of err. Wrapped causes are not
// exposed.
func PublicMessage(err *integration.Error) string {
	msg := strings.TrimSpace(err.Message)
	if msg == "" {
		msg = strings.ReplaceAll(string(err.Kind), "_", " ")
	}
	if err.Integration != "" {
		return err.Integration + ": " + msg
	}
	return msg
}

// RenderNotFound returns a 404 response.
func RenderNotFound(c *echo.Context) error {
	return c.String(http.StatusNotFound, "404 page not found")
}

func (h *Handlers) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

var (
	defaultValidatorOnce sync.Once
	defaultValidator     *validator.Validate
)

// NewValidator returns a validator reporting fields by their JSON names.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (h *Handlers) validator() *validator.Validate {
	if h.Validate != nil {
		return h.Validate
	}
	defaultValidatorOnce.Do(func() { defaultValidator = NewValidator() })
	return defaultValidator
}

// bindJSON decodes the request body into dst and validates it.
func (h *Handlers) bindJSON(c *echo.Context, op string, dst any) error {
	body := io.LimitReader(c.Request().Body, defaultMaxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return integration.New(integration.KindValidation, op, "request body is required")
		}
		return integration.New(integration.KindValidation, op, "malformed JSON body")
	}
	if err := h.validator().Struct(dst); err != nil {
		return validationError(op, err)
	}
	return nil
}

func validationError(op string, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return integration.Wrap(integration.KindValidation, op, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fe.Field()+": "+validationMessage(fe))
	}
	return integration.New(integration.KindValidation, op, strings.Join(msgs, "; "))
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "url", "http_url":
		return "must be a valid URL"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	default:
		return "is invalid"
	}
}

// connectorFor loads the connection and builds its connector.
func (h *Handlers) connectorFor(ctx context.Context, id string) (*connector.Connector, error) {
	conn, err := h.Store.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	return h.Registry.Create(ctx, conn.IntegrationType, conn, h.Store)
}
