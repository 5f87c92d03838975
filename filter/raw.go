package filter

// RawFilter is a filter as written in a target document.  Every
// field is optional; nil means absent.
type RawFilter struct {
	Type        *string `json:"type,omitempty"`
	Name        *string `json:"name,omitempty"`
	CustomName  *string `json:"custom-name,omitempty"`
	UUID        *string `json:"uuid,omitempty"`
	SpawnReason *string `json:"spawn-reason,omitempty"`
	InstanceOf  *string `json:"instance-of,omitempty"`

	MinX *float64 `json:"min-x,omitempty"`
	MaxX *float64 `json:"max-x,omitempty"`
	MinY *float64 `json:"min-y,omitempty"`
	MaxY *float64 `json:"max-y,omitempty"`
	MinZ *float64 `json:"min-z,omitempty"`
	MaxZ *float64 `json:"max-z,omitempty"`

	// ScoreboardTags is absent when nil.  An empty list is
	// present (and matches everything).
	ScoreboardTags []string `json:"scoreboard-tags,omitempty"`

	// Data is a pattern for the entity's free-form data.
	Data interface{} `json:"data,omitempty"`

	// Script is an ECMAScript expression that sees the entity as
	// "entity".
	Script *string `json:"script,omitempty"`

	Icon        *string    `json:"icon,omitempty"`
	Anchor      *RawAnchor `json:"anchor,omitempty"`
	MaxDistance *float64   `json:"max-distance,omitempty"`

	PopupInfoTemplate *string `json:"popup-info-template,omitempty"`
	PopupFormat       *string `json:"popup-format,omitempty"`

	Exclude []*RawFilter `json:"exclude,omitempty"`
}

// RawAnchor is an icon offset.  Both coordinates are required.
// Fractions are truncated toward zero.
type RawAnchor struct {
	X *float64 `json:"x,omitempty"`
	Y *float64 `json:"y,omitempty"`
}

// selects reports whether any attribute that narrows the match is
// present.
func (r *RawFilter) selects() bool {
	return r.Type != nil ||
		r.Name != nil ||
		r.CustomName != nil ||
		r.UUID != nil ||
		r.SpawnReason != nil ||
		r.InstanceOf != nil ||
		r.MinX != nil || r.MaxX != nil ||
		r.MinY != nil || r.MaxY != nil ||
		r.MinZ != nil || r.MaxZ != nil ||
		r.ScoreboardTags != nil ||
		r.Data != nil ||
		r.Script != nil
}

// RawSet is a filter set (a rule group) as written in a target
// document.
type RawSet struct {
	Label         *string      `json:"label,omitempty"`
	Toggleable    *bool        `json:"toggleable,omitempty"`
	DefaultHidden *bool        `json:"default-hidden,omitempty"`
	Sorting       *int         `json:"sorting,omitempty"`
	MarkerStyle   *string      `json:"marker-style,omitempty"`
	EyeLevel      *bool        `json:"eye-level,omitempty"`
	Filters       []*RawFilter `json:"filters,omitempty"`
}
