package httptransport

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"qgate/internal/ledger"
	"qgate/internal/migration"
	"qgate/internal/readiness"
	"qgate/internal/transfer"
	audit "qgate/pkg/platform/audit"
	"qgate/pkg/platform/httputil"
	"qgate/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/handler-mocks.go -package=mocks Transferrer Migrator RejectionChecker

// Transferrer runs a fixed-value transfer on operator request.
type Transferrer interface {
	EnforceFixedValueTransfer(ctx context.Context, destination string, id ledger.AssetID) (*transfer.Result, error)
}

// Migrator exposes migration state and manual attempts.
type Migrator interface {
	Attempt(ctx context.Context, id ledger.AssetID) (migration.Outcome, error)
	Status(ctx context.Context, id ledger.AssetID) (migration.State, error)
}

// RejectionChecker reads the rejection cache.
type RejectionChecker interface {
	IsRejected(ctx context.Context, id ledger.AssetID) (bool, error)
}

// ReadinessReporter reports the mainnet readiness snapshot.
type ReadinessReporter interface {
	Status() readiness.Status
}

// KeyPublisher exposes the gate's public keys.
type KeyPublisher interface {
	SigningPublicKey() []byte
	EncapsulationPublicKey() []byte
}

// HealthCheck probes one dependency for /readyz.
type HealthCheck func(ctx context.Context) error

// Services are the components the handler delegates to.
type Services struct {
	Transfers  Transferrer
	Migrations Migrator
	Rejections RejectionChecker
	Readiness  ReadinessReporter
	Keys       KeyPublisher
	Auditor    audit.Emitter
	Checks     map[string]HealthCheck
}

// Handler is the thin HTTP layer over the gate's components.
type Handler struct {
	svc    Services
	logger *slog.Logger
}

func New(svc Services, logger *slog.Logger) (*Handler, error) {
	if svc.Transfers == nil || svc.Migrations == nil || svc.Rejections == nil {
		return nil, errors.New("transfers, migrations and rejections are required")
	}
	if svc.Readiness == nil || svc.Keys == nil {
		return nil, errors.New("readiness and keys are required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{svc: svc, logger: logger}, nil
}

// RegisterPublic mounts the unauthenticated read endpoints.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Get("/keys", h.HandleKeys)
	r.Get("/assets/{id}", h.HandleAsset)
}

// RegisterOperator mounts endpoints that require an operator token.
func (h *Handler) RegisterOperator(r chi.Router) {
	r.Post("/transfers", h.HandleTransfer)
	r.Post("/assets/{id}/migrate", h.HandleMigrate)
}

func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleReady runs every health check. Mainnet readiness is reported but
// does not affect the status code.
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.svc.Checks))
	status := http.StatusOK
	for name, check := range h.svc.Checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	httputil.WriteJSON(w, status, ReadyResponse{
		Checks:  checks,
		Mainnet: h.svc.Readiness.Status(),
	})
}

func (h *Handler) HandleKeys(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, KeysResponse{
		Algorithm:              "ML-KEM-768+ML-DSA-65",
		SigningPublicKey:       base64.StdEncoding.EncodeToString(h.svc.Keys.SigningPublicKey()),
		EncapsulationPublicKey: base64.StdEncoding.EncodeToString(h.svc.Keys.EncapsulationPublicKey()),
	})
}

func (h *Handler) HandleAsset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := ledger.AssetID(chi.URLParam(r, "id"))
	if id == "" {
		httputil.WriteError(w, httputil.BadRequest("asset id is required"))
		return
	}

	rejected, err := h.svc.Rejections.IsRejected(ctx, id)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to read rejection cache",
			"request_id", requestcontext.RequestID(ctx),
			"asset_id", id.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	state, err := h.svc.Migrations.Status(ctx, id)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to read migration state",
			"request_id", requestcontext.RequestID(ctx),
			"asset_id", id.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, AssetResponse{
		AssetID:   id.String(),
		Rejected:  rejected,
		Migration: state.String(),
	})
}

func (h *Handler) HandleTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	req, ok := httputil.DecodeJSON[TransferRequest](w, r)
	if !ok {
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}
	id := ledger.AssetID(req.AssetID)
	h.emit(ctx, id, "transfer")

	result, err := h.svc.Transfers.EnforceFixedValueTransfer(ctx, req.Destination, id)
	if err != nil {
		h.logger.ErrorContext(ctx, "operator transfer failed",
			"request_id", requestID,
			"asset_id", req.AssetID,
			"error", err,
		)
		httputil.WriteError(w, transferError(err))
		return
	}

	h.logger.InfoContext(ctx, "operator transfer handled",
		"request_id", requestID,
		"operator_id", requestcontext.OperatorID(ctx),
		"asset_id", req.AssetID,
		"skipped", result.Skipped,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) HandleMigrate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := ledger.AssetID(chi.URLParam(r, "id"))
	if id == "" {
		httputil.WriteError(w, httputil.BadRequest("asset id is required"))
		return
	}
	h.emit(ctx, id, "migrate")

	outcome, err := h.svc.Migrations.Attempt(ctx, id)
	if err != nil {
		h.logger.ErrorContext(ctx, "operator migration failed",
			"request_id", requestcontext.RequestID(ctx),
			"asset_id", id.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, MigrateResponse{AssetID: id.String(), Outcome: string(outcome)})
}

func (h *Handler) emit(ctx context.Context, id ledger.AssetID, reason string) {
	if h.svc.Auditor == nil {
		return
	}
	if err := h.svc.Auditor.Emit(ctx, audit.Event{
		Subject:   id.String(),
		Action:    string(audit.EventOperatorRequest),
		Reason:    reason,
		RequestID: requestcontext.RequestID(ctx),
		ActorID:   requestcontext.OperatorID(ctx),
		Timestamp: requestcontext.Now(ctx),
	}); err != nil {
		h.logger.WarnContext(ctx, "failed to emit audit event", "error", err)
	}
}

func transferError(err error) error {
	switch {
	case errors.Is(err, transfer.ErrInvalidDestination):
		return httputil.BadRequest(err.Error())
	case errors.Is(err, transfer.ErrSubmission):
		return &httputil.Error{Status: http.StatusBadGateway, Code: "submission_failed"}
	default:
		return err
	}
}
