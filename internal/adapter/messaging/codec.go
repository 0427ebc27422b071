package messaging

import (
	"encoding/json"
	"fmt"

	"github.com/rl1809/flash-sale/internal/core/domain"
)

const contentType = "application/json"

func EncodeEvent(event domain.SettlementEvent) ([]byte, error) {
	b, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode settlement event %s: %w", event.Token, err)
	}
	return b, nil
}

// DecodeEvent rejects payloads without a token since they can never be settled.
func DecodeEvent(b []byte) (domain.SettlementEvent, error) {
	var event domain.SettlementEvent
	if err := json.Unmarshal(b, &event); err != nil {
		return domain.SettlementEvent{}, fmt.Errorf("decode settlement event: %w", err)
	}
	if event.Token == "" {
		return domain.SettlementEvent{}, fmt.Errorf("decode settlement event: missing token")
	}
	return event, nil
}
