package contextwindow

import (
	"encoding/base64"
	"encoding/json"
)

// cursorVersion is the current cursor encoding version. Decoders accept
// only versions they understand; anything else degrades to no boundary.
const cursorVersion = 1

// Cursor is the pagination boundary for spillover retrieval. Clients
// must treat the encoded form as opaque; the internal encoding may change
// between versions.
type Cursor struct {
	// Version tags the encoding format.
	Version int `json:"version"`

	// MaxSalience is the exclusive upper salience bound for the next page.
	MaxSalience float64 `json:"max_salience"`

	// LastEntity is the name of the last record on the previous page.
	LastEntity string `json:"last_entity"`
}

// noBoundary is the cursor that starts from the top.
func noBoundary() Cursor {
	return Cursor{Version: cursorVersion, MaxSalience: 1.0, LastEntity: ""}
}

// EncodeCursor serializes a boundary into an opaque string.
func EncodeCursor(c Cursor) string {
	c.Version = cursorVersion
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeCursor parses an opaque cursor string. A corrupted, empty, or
// unrecognized cursor yields the no-boundary cursor rather than an error;
// spillover retrieval then restarts from the top.
func DecodeCursor(s string) Cursor {
	if s == "" {
		return noBoundary()
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return noBoundary()
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return noBoundary()
	}
	if c.Version != cursorVersion {
		return noBoundary()
	}
	if c.MaxSalience <= 0 || c.MaxSalience > 1.0 {
		c.MaxSalience = 1.0
	}
	return c
}
