package store

import (
	"encoding/base64"
	"encoding/json"
)

// pageKey is the last (created_at, id) pair a page ended on. It travels to
// clients base64-encoded so they can't depend on its contents.
type pageKey struct {
	CreatedAt int64 `json:"createdAt"`
	ID        int64 `json:"id"`
}

func encodeCursor(key pageKey) string {
	data, _ := json.Marshal(key)
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeCursor(token string) (pageKey, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return pageKey{}, ErrBadCursor
	}
	var key pageKey
	if err := json.Unmarshal(data, &key); err != nil {
		return pageKey{}, ErrBadCursor
	}
	return key, nil
}
