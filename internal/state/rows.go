package state

import (
	"encoding/json"

	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/models"
)

// encodeRow marshals a model into a store row. Marshal failures cannot
// happen for our model types, so the error is swallowed.
func encodeRow(v any) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}

func decodeMessage(row json.RawMessage) (models.Message, error) {
	var m models.Message
	err := json.Unmarshal(row, &m)
	return m, err
}

func decodeReaction(row json.RawMessage) (models.Reaction, error) {
	var r models.Reaction
	err := json.Unmarshal(row, &r)
	return r, err
}

func decodeChannel(row json.RawMessage) (models.Channel, error) {
	var c models.Channel
	err := json.Unmarshal(row, &c)
	return c, err
}

func decodeUser(row json.RawMessage) (models.User, error) {
	var u models.User
	err := json.Unmarshal(row, &u)
	return u, err
}
