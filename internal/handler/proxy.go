package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"webrelay-go/internal/model"
	"webrelay-go/internal/proxyerr"
	"webrelay-go/internal/service"
)

// relayRequest is the JSON body of POST /api. Older clients send the action
// as "req" instead of "action".
type relayRequest struct {
	Action string          `json:"action"`
	Req    string          `json:"req"`
	Data   json.RawMessage `json:"data"`
	TS     *int64          `json:"ts"`
	ID     string          `json:"id"`
	Mode   string          `json:"mode"`
}

// ProxyHandler serves the relay endpoint.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle runs one relay call. Pipeline failures are part of the JSON body and
// still answer 200; only an unreadable body is an HTTP error.
func (h *ProxyHandler) Handle(c echo.Context) error {
	var body relayRequest
	if err := c.Bind(&body); err != nil {
		h.logger.Debug("bind relay request", "err", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}

	pr := &model.ProxyRequest{
		Action:    body.Action,
		Timestamp: body.TS,
		RequestID: body.ID,
		Mode:      body.Mode,
	}
	if pr.Action == "" {
		pr.Action = body.Req
	}
	if pr.RequestID == "" {
		pr.RequestID = c.Response().Header().Get(echo.HeaderXRequestID)
	}

	payload, err := payloadString(body.Data)
	if err != nil {
		return c.JSON(http.StatusOK, h.service.Reject(pr, err))
	}
	pr.Payload = payload

	resp := h.service.Process(c.Request().Context(), pr)
	return c.JSON(http.StatusOK, resp)
}

// Passthrough serves GET /proxy?url=<plain url>. It answers with the page
// itself rather than the JSON envelope: the target's status and body on
// success, plain text 400 without a url and plain text 500 on failure.
func (h *ProxyHandler) Passthrough(c echo.Context) error {
	raw := c.QueryParam("url")
	if strings.TrimSpace(raw) == "" {
		return c.String(http.StatusBadRequest, "URL parameter required")
	}

	resp := h.service.Passthrough(c.Request().Context(), raw, c.Response().Header().Get(echo.HeaderXRequestID))
	if !resp.OK() {
		return c.String(http.StatusInternalServerError, "Proxy error: "+resp.Failure.Error)
	}

	status := resp.Success.StatusCode
	if status == http.StatusNoContent || status == http.StatusNotModified {
		return c.NoContent(status)
	}
	return c.HTML(status, resp.Success.HTML)
}

// payloadString returns the data field as a string. A missing or null field
// is empty and left to request validation; any other non-string is a decode
// failure.
func payloadString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", proxyerr.Wrap(proxyerr.KindDecode, "request",
			fmt.Errorf("data must be a string, got %.32s", raw))
	}
	return s, nil
}
