package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v5"
	"github.com/open-sspm/integration-hub/internal/integration"
)

type registerWebhookRequest struct {
	URL    string   `json:"url" validate:"required,url,max=2048"`
	Events []string `json:"events" validate:"max=100,dive,required,max=128"`
	Secret string   `json:"secret" validate:"max=512"`
}

type setWebhookActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

type webhookView struct {
	integration.WebhookConfig
	HasSecret bool `json:"hasSecret"`
}

type registerWebhookResponse struct {
	WebhookID string      `json:"webhookId"`
	Webhook   webhookView `json:"webhook"`
}

type incomingWebhookResponse struct {
	Received bool `json:"received"`
}

func newWebhookView(cfg integration.WebhookConfig) webhookView {
	return webhookView{WebhookConfig: cfg, HasSecret: cfg.HasSecret()}
}

func (h *Handlers) HandleRegisterWebhook(c *echo.Context) error {
	const op = "register webhook"
	ctx := c.Request().Context()

	var req registerWebhookRequest
	if err := h.bindJSON(c, op, &req); err != nil {
		return err
	}
	cfg, err := h.Webhooks.RegisterWebhook(ctx, strings.TrimSpace(c.Param("id")), integration.WebhookConfig{
		URL:    strings.TrimSpace(req.URL),
		Events: req.Events,
		Secret: req.Secret,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, registerWebhookResponse{WebhookID: cfg.ID, Webhook: newWebhookView(cfg)})
}

// HandleIncomingWebhook verifies a provider delivery and acknowledges it
// before the registered handler runs.
func (h *Handlers) HandleIncomingWebhook(c *echo.Context) error {
	const op = "receive webhook"
	req := c.Request()

	limit := h.MaxWebhookBody
	if limit <= 0 {
		limit = defaultMaxWebhookBodyBytes
	}
	body, err := io.ReadAll(io.LimitReader(req.Body, limit+1))
	if err != nil {
		return integration.Wrap(integration.KindValidation, op, err)
	}
	if int64(len(body)) > limit {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "payload too large")
	}

	if err := h.Webhooks.HandleIncoming(req.Context(), strings.TrimSpace(c.Param("webhookId")), req.Header.Clone(), body); err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, incomingWebhookResponse{Received: true})
}

func (h *Handlers) HandleListWebhooks(c *echo.Context) error {
	hooks, err := h.Webhooks.ListWebhooks(c.Request().Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		return err
	}
	out := make([]webhookView, 0, len(hooks))
	for _, cfg := range hooks {
		out = append(out, newWebhookView(cfg))
	}
	return c.JSON(http.StatusOK, out)
}

// HandleSetWebhookActive pauses or resumes a webhook.
func (h *Handlers) HandleSetWebhookActive(c *echo.Context) error {
	const op = "update webhook"
	ctx := c.Request().Context()
	id := strings.TrimSpace(c.Param("webhookId"))

	var req setWebhookActiveRequest
	if err := h.bindJSON(c, op, &req); err != nil {
		return err
	}
	var (
		cfg integration.WebhookConfig
		err error
	)
	if *req.Active {
		cfg, err = h.Webhooks.ResumeWebhook(ctx, id)
	} else {
		cfg, err = h.Webhooks.PauseWebhook(ctx, id)
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newWebhookView(cfg))
}

func (h *Handlers) HandleDeleteWebhook(c *echo.Context) error {
	if err := h.Webhooks.UnregisterWebhook(c.Request().Context(), strings.TrimSpace(c.Param("webhookId"))); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
