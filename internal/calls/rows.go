package calls

import (
	"encoding/json"
	"fmt"

	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/models"
)

func encode(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("calls: encode row: %v", err))
	}
	return b
}

func decode(row json.RawMessage) (models.Call, error) {
	var c models.Call
	if err := json.Unmarshal(row, &c); err != nil {
		return models.Call{}, fmt.Errorf("decode call row: %w", err)
	}
	return c, nil
}
