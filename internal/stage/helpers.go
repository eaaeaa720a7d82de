package stage

import (
	"encoding/json"
	"fmt"
	"strings"

	"newscast/internal/ledger"
	"newscast/internal/services"
)

// RequirePayload returns the payload recorded for stage. A missing payload
// means the ledger and the executor disagree about progress, which is a
// validation failure rather than something a retry can fix.
func RequirePayload(st *ledger.ArticleState, stage ledger.Stage, executor string) (ledger.Payload, error) {
	p, ok := st.Payload(stage)
	if !ok || strings.TrimSpace(p.Ref) == "" {
		return ledger.Payload{}, services.Wrap(
			services.ErrValidation, executor, "load payload",
			fmt.Sprintf("No %s payload recorded for article", stage), nil)
	}
	return p, nil
}

// DecodeDetail unmarshals the structured detail of stage's payload into v.
func DecodeDetail(st *ledger.ArticleState, stage ledger.Stage, executor string, v any) error {
	p, err := RequirePayload(st, stage, executor)
	if err != nil {
		return err
	}
	if len(p.Detail) == 0 {
		return services.Wrap(
			services.ErrValidation, executor, "decode payload",
			fmt.Sprintf("The %s payload has no detail", stage), nil)
	}
	if err := json.Unmarshal(p.Detail, v); err != nil {
		return services.Wrap(
			services.ErrValidation, executor, "decode payload",
			fmt.Sprintf("The %s payload detail is malformed", stage), err)
	}
	return nil
}

// EncodeDetail marshals v for use as a payload detail.
func EncodeDetail(executor string, v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, executor, "encode payload", "Failed to encode payload detail", err)
	}
	return data, nil
}
