package protos

import (
	"fmt"

	"github.com/devicefleet/mitmcore/internal/domain"
)

// Verdict is the outcome of type-specific structural validation.
type Verdict struct {
	Drop   bool
	Reason string
	// FortSearch is set for FORT_SEARCH protos that passed the range gate.
	FortSearch *FortSearch
}

// Validate applies the per-method structural rules to a decoded payload.
// Methods without rules always pass.
func Validate(method domain.MethodID, payload []byte) (Verdict, error) {
	switch method {
	case domain.MethodGMO:
		gmo, err := ParseGMO(payload)
		if err != nil {
			return Verdict{}, fmt.Errorf("parse GMO: %w", err)
		}
		if gmo.MapCells == 0 {
			return Verdict{Drop: true, Reason: "empty GMO"}, nil
		}
	case domain.MethodFortSearch:
		fs, err := ParseFortSearch(payload)
		if err != nil {
			return Verdict{}, fmt.Errorf("parse fort search: %w", err)
		}
		if fs.Result == FortSearchOutOfRange {
			return Verdict{Drop: true, Reason: "fort search out of range", FortSearch: &fs}, nil
		}
		return Verdict{FortSearch: &fs}, nil
	case domain.MethodEncounter:
		enc, err := ParseEncounter(payload)
		if err != nil {
			return Verdict{}, fmt.Errorf("parse encounter: %w", err)
		}
		if enc.Status != EncounterSuccess {
			return Verdict{Drop: true, Reason: fmt.Sprintf("encounter status %d", enc.Status)}, nil
		}
	case domain.MethodGetRoutes:
		routes, err := ParseGetRoutes(payload)
		if err != nil {
			return Verdict{}, fmt.Errorf("parse get routes: %w", err)
		}
		if routes.RouteMapCells == 0 {
			return Verdict{Drop: true, Reason: "no routes"}, nil
		}
	}
	return Verdict{}, nil
}
