package httpapp

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/open-sspm/integration-hub/internal/http/handlers"
	"github.com/open-sspm/integration-hub/internal/integration"
)

const headerRequestID = "X-Request-ID"

// EchoServer is the HTTP server wrapper.
type EchoServer struct {
	h *handlers.Handlers
	e *echo.Echo
}

// NewEchoServer creates a new HTTP server.
func NewEchoServer(h *handlers.Handlers) (*EchoServer, error) {
	if h == nil {
		return nil, errors.New("handlers are required")
	}
	if h.Store == nil || h.Registry == nil || h.Webhooks == nil {
		return nil, errors.New("store, registry and webhook manager are required")
	}
	e := echo.New()
	if h.Logger != nil {
		e.Logger = h.Logger
	}
	es := &EchoServer{h: h, e: e}
	e.HTTPErrorHandler = es.httpErrorHandler
	e.Use(requestID(), middleware.Recover())
	es.registerRoutes()
	return es, nil
}

func (es *EchoServer) registerRoutes() {
	es.e.GET("/healthz", es.h.HandleHealthz)

	api := es.e.Group("/integrations")
	api.GET("/available", es.h.HandleAvailable)
	api.GET("/metadata/:type", es.h.HandleMetadata)
	api.GET("/property/:propertyId", es.h.HandlePropertyConnections)

	api.POST("/connection", es.h.HandleCreateConnection)
	api.GET("/connection/:id", es.h.HandleGetConnection)
	api.PATCH("/connection/:id", es.h.HandleUpdateConnection)
	api.DELETE("/connection/:id", es.h.HandleDeleteConnection)
	api.POST("/connection/:id/test", es.h.HandleTestConnection)
	api.GET("/connection/:id/metadata", es.h.HandleServiceMetadata)
	api.GET("/connection/:id/authorize", es.h.HandleAuthorize)
	api.POST("/connection/:id/refresh", es.h.HandleRefresh)
	api.POST("/connection/:id/revoke", es.h.HandleRevoke)
	api.GET("/callback/:type", es.h.HandleCallback)

	api.POST("/connection/:id/webhook", es.h.HandleRegisterWebhook)
	api.GET("/connection/:id/webhooks", es.h.HandleListWebhooks)
	api.POST("/webhook/:webhookId", es.h.HandleIncomingWebhook)
	api.PATCH("/webhook/:webhookId", es.h.HandleSetWebhookActive)
	api.DELETE("/webhook/:webhookId", es.h.HandleDeleteWebhook)
}

// ServeHTTP lets the server be mounted on any http.Server.
func (es *EchoServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	es.e.ServeHTTP(w, r)
}

// StartServer serves on server until server.Shutdown is called.
func (es *EchoServer) StartServer(server *http.Server) error {
	server.Handler = es
	return server.ListenAndServe()
}

func (es *EchoServer) httpErrorHandler(c *echo.Context, err error) {
	var ie *integration.Error
	if errors.As(err, &ie) {
		if integration.HTTPStatus(err) == http.StatusInternalServerError {
			_ = es.h.RenderError(c, err)
			return
		}
		_ = handlers.RenderIntegrationError(c, ie)
		return
	}

	status := httpStatusFromError(err)
	switch {
	case status == http.StatusNotFound:
		_ = handlers.RenderNotFound(c)
	case status >= http.StatusInternalServerError:
		_ = es.h.RenderError(c, err)
	default:
		_ = c.String(status, http.StatusText(status))
	}
}

func httpStatusFromError(err error) int {
	var sc interface{ StatusCode() int }
	if errors.As(err, &sc) {
		if code := sc.StatusCode(); code >= 400 && code <= 599 {
			return code
		}
	}
	return http.StatusInternalServerError
}

// requestID propagates X-Request-ID, minting one when the caller sent none.
func requestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			id := strings.TrimSpace(c.Request().Header.Get(headerRequestID))
			if id == "" || len(id) > 128 {
				id = uuid.NewString()
			}
			c.Set(handlers.ContextKeyRequestID, id)
			c.Response().Header().Set(headerRequestID, id)
			return next(c)
		}
	}
}
