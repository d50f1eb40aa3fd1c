// Package client holds the outbound HTTP client for the sister
// enrollment portal.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/enrollment-api/pkg/config"
	appErrors "github.com/noah-isme/enrollment-api/pkg/errors"
)

// PortalStatus is the portal's generic status answer, also used by the
// /test liveness probe.
type PortalStatus struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// PortalCourse is a course as published by the portal.
type PortalCourse struct {
	ID       int    `json:"id"`
	Nombre   string `json:"nombre"`
	Horario  string `json:"horario"`
	Precio   string `json:"precio"`
	Activo   bool   `json:"activo"`
	Cupos    int    `json:"cupos"`
	Duracion string `json:"duracion"`
}

// PortalEnrollment is the portal's view of one enrollment, keyed by cedula.
type PortalEnrollment struct {
	Cedula      string `json:"cedula"`
	CursoNombre string `json:"curso_nombre"`
	Status      string `json:"status"`
	Matricula   string `json:"matricula,omitempty"`
}

// PortalClient calls the sister system's REST API with a bearer token.
// Transport failures and application-level rejections are surfaced as
// distinct error codes so callers can tell "could not reach system" from
// "system rejected request".
type PortalClient struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// NewPortalClient constructs the client from configuration.
func NewPortalClient(cfg config.PortalConfig, logger *zap.Logger) *PortalClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PortalClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
	}
}

// Ping probes the portal's /test endpoint.
func (c *PortalClient) Ping(ctx context.Context) (*PortalStatus, error) {
	var status PortalStatus
	if err := c.get(ctx, "/api/v1/test", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// GetCourses fetches the current course catalog.
func (c *PortalClient) GetCourses(ctx context.Context) ([]PortalCourse, error) {
	var payload struct {
		Status string         `json:"status"`
		Data   []PortalCourse `json:"data"`
	}
	if err := c.get(ctx, "/api/v1/cursos", &payload); err != nil {
		return nil, err
	}
	return payload.Data, nil
}

// GetEnrollmentStatus fetches the portal's enrollment state for a cedula.
func (c *PortalClient) GetEnrollmentStatus(ctx context.Context, cedula string) ([]PortalEnrollment, error) {
	var payload struct {
		Status string             `json:"status"`
		Data   []PortalEnrollment `json:"data"`
	}
	if err := c.get(ctx, "/api/v1/inscripciones/"+cedula, &payload); err != nil {
		return nil, err
	}
	return payload.Data, nil
}

func (c *PortalClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "build portal request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// Timeout, DNS, TLS: the portal never saw the request (or we
		// never saw the answer), so the caller may retry as-is.
		return appErrors.Wrap(err, appErrors.ErrTransport.Code, appErrors.ErrTransport.Status, "portal unreachable")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrTransport.Code, appErrors.ErrTransport.Status, "read portal response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := upstreamMessage(body)
		c.logger.Warn("portal rejected request",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("message", message),
		)
		return appErrors.Wrap(
			fmt.Errorf("portal answered %d: %s", resp.StatusCode, message),
			appErrors.ErrUpstreamRejected.Code,
			appErrors.ErrUpstreamRejected.Status,
			fmt.Sprintf("portal rejected request (%d): %s", resp.StatusCode, message),
		)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return appErrors.Wrap(err, appErrors.ErrUpstreamRejected.Code, appErrors.ErrUpstreamRejected.Status, "portal answered malformed JSON")
	}
	return nil
}

func upstreamMessage(body []byte) string {
	var payload struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		if len(body) > 200 {
			body = body[:200]
		}
		return string(body)
	}
	if payload.Message != "" {
		return payload.Message
	}
	return payload.Error
}
