package httptransport

import (
	"strings"

	"qgate/internal/readiness"
	"qgate/pkg/platform/httputil"
)

type TransferRequest struct {
	AssetID     string `json:"asset_id"`
	Destination string `json:"destination"`
}

func (r *TransferRequest) Validate() error {
	r.AssetID = strings.TrimSpace(r.AssetID)
	r.Destination = strings.TrimSpace(r.Destination)
	if r.AssetID == "" {
		return httputil.BadRequest("asset_id is required")
	}
	if r.Destination == "" {
		return httputil.BadRequest("destination is required")
	}
	return nil
}

type AssetResponse struct {
	AssetID   string `json:"asset_id"`
	Rejected  bool   `json:"rejected"`
	Migration string `json:"migration"`
}

type MigrateResponse struct {
	AssetID string `json:"asset_id"`
	Outcome string `json:"outcome"`
}

type KeysResponse struct {
	Algorithm              string `json:"algorithm"`
	SigningPublicKey       string `json:"signing_public_key"`
	EncapsulationPublicKey string `json:"encapsulation_public_key"`
}

type ReadyResponse struct {
	Checks  map[string]string `json:"checks"`
	Mainnet readiness.Status  `json:"mainnet"`
}
