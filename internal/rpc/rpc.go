// Package rpc exposes the ledger over connect for thin clients that do not
// run the settlement locally.
//
// Messages are plain JSON structs carried by a connect codec registered under
// the "json" name, so any connect or plain HTTP client can call
//
//	POST /eventlist.v1.LedgerService/Settle  {"eventId": "...", "userId": "..."}
package rpc

import (
	"encoding/json"
	"fmt"
)

const (
	// LedgerServiceName is the fully-qualified service name.
	LedgerServiceName = "eventlist.v1.LedgerService"

	// SettleProcedure is the path of the Settle RPC.
	SettleProcedure = "/" + LedgerServiceName + "/Settle"
)

// SettleRequest asks for the settlement of one event as seen by UserID.
// When the server authenticates callers, the token's identity is used and
// UserID may be omitted.
type SettleRequest struct {
	EventID string `json:"eventId"`
	UserID  string `json:"userId,omitempty"`
}

// Codec marshals connect messages as JSON.
type Codec struct{}

// Name implements connect.Codec.
func (Codec) Name() string { return "json" }

// Marshal implements connect.Codec.
func (Codec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %T: %w", v, err)
	}
	return data, nil
}

// Unmarshal implements connect.Codec.
func (Codec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %T: %w", v, err)
	}
	return nil
}
