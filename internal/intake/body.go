package intake

import (
	"bytes"
	"encoding/json"

	"github.com/devicefleet/mitmcore/internal/domain"
)

// DecodeBody parses a POST body holding either one envelope or an array of them.
func DecodeBody(body []byte) ([]domain.ProtoEnvelope, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, domain.ErrMalformedBody
	}
	if trimmed[0] == '[' {
		var list []domain.ProtoEnvelope
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, domain.WrapEngineError(domain.ErrMalformedBody.Code, "decode proto list", err)
		}
		return list, nil
	}
	var single domain.ProtoEnvelope
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return nil, domain.WrapEngineError(domain.ErrMalformedBody.Code, "decode proto", err)
	}
	return []domain.ProtoEnvelope{single}, nil
}
