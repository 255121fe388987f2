package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/open-sspm/integration-hub/internal/connectors/configstore"
	"github.com/open-sspm/integration-hub/internal/integration"
	"github.com/open-sspm/integration-hub/internal/store"
)

type createConnectionRequest struct {
	PropertyID      string         `json:"propertyId" validate:"required,max=255"`
	IntegrationType string         `json:"integrationType" validate:"required,max=64"`
	Name            string         `json:"name" validate:"max=255"`
	Config          map[string]any `json:"config"`
	APIKey          string         `json:"apiKey"`
	APISecret       string         `json:"apiSecret"`
}

type updateConnectionRequest struct {
	Name      *string        `json:"name" validate:"omitnil,max=255"`
	Config    map[string]any `json:"config"`
	APIKey    *string        `json:"apiKey"`
	APISecret *string        `json:"apiSecret"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type refreshResponse struct {
	Success        bool       `json:"success"`
	TokenExpiresAt *time.Time `json:"tokenExpiresAt,omitempty"`
}

// HandleAvailable lists every registered integration type.
func (h *Handlers) HandleAvailable(c *echo.Context) error {
	return c.JSON(http.StatusOK, h.Registry.ListAvailable())
}

// HandleMetadata describes one integration type. Unregistered types are 404.
func (h *Handlers) HandleMetadata(c *echo.Context) error {
	meta, err := h.Registry.Metadata(c.Param("type"))
	if err != nil {
		if errors.Is(err, integration.ErrUnknownIntegration) {
			return integration.New(integration.KindNotFound, "integration metadata", "integration "+strings.TrimSpace(c.Param("type"))+" is not registered")
		}
		return err
	}
	return c.JSON(http.StatusOK, meta)
}

// HandlePropertyConnections lists the connections of one property.
func (h *Handlers) HandlePropertyConnections(c *echo.Context) error {
	propertyID := strings.TrimSpace(c.Param("propertyId"))
	conns, err := h.Store.ListByProperty(c.Request().Context(), propertyID)
	if err != nil {
		return err
	}
	out := make([]integration.RedactedConnection, 0, len(conns))
	for _, conn := range conns {
		out = append(out, conn.Redacted())
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handlers) HandleGetConnection(c *echo.Context) error {
	conn, err := h.Store.Get(c.Request().Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, conn.Redacted())
}

// HandleCreateConnection stores a new connection after the integration's
// constructor accepted its config.
func (h *Handlers) HandleCreateConnection(c *echo.Context) error {
	const op = "create connection"
	ctx := c.Request().Context()

	var req createConnectionRequest
	if err := h.bindJSON(c, op, &req); err != nil {
		return err
	}
	conn := integration.Connection{
		PropertyID:      strings.TrimSpace(req.PropertyID),
		IntegrationType: integration.NormalizeType(req.IntegrationType),
		Name:            strings.TrimSpace(req.Name),
		Config:          req.Config,
		APIKey:          strings.TrimSpace(req.APIKey),
		APISecret:       strings.TrimSpace(req.APISecret),
		Status:          integration.StatusPending,
	}
	if !h.Registry.Has(conn.IntegrationType) {
		return integration.New(integration.KindUnknownIntegration, op, "integration "+conn.IntegrationType+" is not registered")
	}
	if conn.APIKey != "" {
		if meta, err := h.Registry.Metadata(conn.IntegrationType); err == nil && meta.AuthMethod == integration.AuthMethodAPIKey {
			conn.Status = integration.StatusAuthorized
		}
	}
	if _, err := h.Registry.Create(ctx, conn.IntegrationType, conn, h.Store); err != nil {
		return err
	}

	saved, err := h.Store.Save(ctx, conn)
	if err != nil {
		return err
	}
	h.logger().InfoContext(ctx, "connection created",
		"connection_id", saved.ID,
		"property_id", saved.PropertyID,
		"integration", saved.IntegrationType,
	)
	return c.JSON(http.StatusCreated, saved.Redacted())
}

// HandleUpdateConnection applies a partial update. A changed config must
// still be accepted by the integration's constructor. Status is owned by the
// auth flows and cannot be patched.
func (h *Handlers) HandleUpdateConnection(c *echo.Context) error {
	const op = "update connection"
	ctx := c.Request().Context()
	id := strings.TrimSpace(c.Param("id"))

	var req updateConnectionRequest
	if err := h.bindJSON(c, op, &req); err != nil {
		return err
	}
	patch := store.ConnectionPatch{
		Name:      req.Name,
		Config:    req.Config,
		APIKey:    req.APIKey,
		APISecret: req.APISecret,
	}
	if patch.Empty() {
		return integration.New(integration.KindValidation, op, "no fields to update")
	}

	current, err := h.Store.Get(ctx, id)
	if err != nil {
		return err
	}
	if patch.Config != nil {
		merged, err := configstore.MergeConfig(current.IntegrationType, current.Config, patch.Config)
		if err != nil {
			return integration.Wrap(integration.KindValidation, op, err)
		}
		patch.Config = merged
		candidate := current.Clone()
		candidate.Config = merged
		if _, err := h.Registry.Create(ctx, candidate.IntegrationType, candidate, h.Store); err != nil {
			return err
		}
	}

	updated, err := h.Store.Update(ctx, id, patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, updated.Redacted())
}

func (h *Handlers) HandleDeleteConnection(c *echo.Context) error {
	ctx := c.Request().Context()
	id := strings.TrimSpace(c.Param("id"))
	if err := h.Store.Delete(ctx, id); err != nil {
		return err
	}
	h.logger().InfoContext(ctx, "connection deleted", "connection_id", id)
	return c.NoContent(http.StatusNoContent)
}

func (h *Handlers) HandleTestConnection(c *echo.Context) error {
	ctx := c.Request().Context()
	cn, err := h.connectorFor(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	ok, err := cn.TestConnection(ctx)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, successResponse{Success: ok})
}

// HandleServiceMetadata returns the remote account summary of a connection.
func (h *Handlers) HandleServiceMetadata(c *echo.Context) error {
	ctx := c.Request().Context()
	cn, err := h.connectorFor(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	meta, err := cn.ServiceMetadata(ctx)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, meta)
}

func (h *Handlers) HandleRefresh(c *echo.Context) error {
	ctx := c.Request().Context()
	cn, err := h.connectorFor(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	if err := cn.RefreshToken(ctx); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, refreshResponse{Success: true, TokenExpiresAt: cn.Connection().TokenExpiresAt})
}

// HandleRevoke clears the stored credentials. The connection record stays.
func (h *Handlers) HandleRevoke(c *echo.Context) error {
	ctx := c.Request().Context()
	cn, err := h.connectorFor(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	if err := cn.RevokeAccess(ctx); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, successResponse{Success: true})
}
