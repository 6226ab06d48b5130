package stepflow

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

// ListCursor is the decoded form of the opaque pagination cursor used by
// instance listing. It records the sort key of the last row of a page;
// the next page resumes strictly after it in (updatedAt desc, id desc)
// order.
type ListCursor struct {
	UpdatedAt time.Time `json:"u"`
	ID        string    `json:"id"`
}

// Encode serializes the cursor into its opaque wire form
func (c ListCursor) Encode() string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeListCursor parses an opaque cursor. Malformed input fails with a
// BadRequest error, before any store access.
func DecodeListCursor(s string) (*ListCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, NewBadRequest("malformed cursor")
	}
	var c ListCursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, NewBadRequest("malformed cursor")
	}
	if c.ID == "" || c.UpdatedAt.IsZero() {
		return nil, NewBadRequest("malformed cursor")
	}
	return &c, nil
}
