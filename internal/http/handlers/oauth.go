package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v5"
	"github.com/open-sspm/integration-hub/internal/connectors/connector"
	"github.com/open-sspm/integration-hub/internal/integration"
)

type authorizeResponse struct {
	AuthorizationURL string `json:"authorizationUrl"`
}

type callbackResponse struct {
	Success      bool               `json:"success"`
	ConnectionID string             `json:"connectionId"`
	Status       integration.Status `json:"status"`
}

// HandleAuthorize redirects to the provider's consent page. With
// ?redirect=false the URL is returned as JSON instead.
func (h *Handlers) HandleAuthorize(c *echo.Context) error {
	const op = "authorize"
	ctx := c.Request().Context()
	cn, err := h.connectorFor(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	authURL, ok, err := cn.BuildAuthorizationURL(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return integration.New(integration.KindValidation, op, "integration "+cn.Type()+" does not use oauth2")
	}
	if strings.EqualFold(strings.TrimSpace(c.QueryParam("redirect")), "false") {
		return c.JSON(http.StatusOK, authorizeResponse{AuthorizationURL: authURL})
	}
	return c.Redirect(http.StatusFound, authURL)
}

// HandleCallback completes an authorization started by HandleAuthorize. The
// state is consumed from the state store before anything else, so a replayed
// callback fails with InvalidState.
func (h *Handlers) HandleCallback(c *echo.Context) error {
	const op = "oauth callback"
	ctx := c.Request().Context()

	params := connector.CallbackParams{
		Code:             strings.TrimSpace(c.QueryParam("code")),
		State:            strings.TrimSpace(c.QueryParam("state")),
		Error:            strings.TrimSpace(c.QueryParam("error")),
		ErrorDescription: strings.TrimSpace(c.QueryParam("error_description")),
	}
	if params.State == "" {
		return integration.New(integration.KindInvalidState, op, "state is required")
	}
	if h.States == nil {
		return integration.New(integration.KindUnavailable, op, "oauth state store is not configured")
	}
	st, err := h.States.Consume(ctx, params.State)
	if err != nil {
		return err
	}
	kind := integration.NormalizeType(c.Param("type"))
	if st.IntegrationType != kind {
		return integration.New(integration.KindInvalidState, op, "state was issued for another integration")
	}

	cn, err := h.connectorFor(ctx, st.ConnectionID)
	if err != nil {
		return err
	}
	cn.RestoreState(st)
	if err := cn.HandleCallback(ctx, params); err != nil {
		return err
	}

	conn := cn.Connection()
	h.logger().InfoContext(ctx, "oauth authorization completed",
		"connection_id", conn.ID,
		"integration", conn.IntegrationType,
	)
	if target := strings.TrimSpace(h.SuccessRedirect); target != "" {
		return c.Redirect(http.StatusFound, successRedirectURL(target, conn))
	}
	return c.JSON(http.StatusOK, callbackResponse{Success: true, ConnectionID: conn.ID, Status: conn.Status})
}

func successRedirectURL(target string, conn integration.Connection) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	q.Set("connectionId", conn.ID)
	q.Set("integrationType", conn.IntegrationType)
	q.Set("status", string(conn.Status))
	u.RawQuery = q.Encode()
	return u.String()
}
