package scout

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Field distinguishes absent, null, and set values in a PATCH body.
// Absent fields are left alone, JSON null clears the stored value, and
// a concrete value replaces it.
type Field[T any] struct {
	Present bool
	Value   *T
}

// UnmarshalJSON marks the field present and records null vs value.
func (f *Field[T]) UnmarshalJSON(b []byte) error {
	f.Present = true
	if bytes.Equal(b, []byte("null")) {
		f.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("unmarshal patch field: %w", err)
	}
	f.Value = &v
	return nil
}

// OperatorPatch is a partial, explicitly-authorized write to a page's
// operator attributes. It is applied directly by the page store and
// never flows through the merge reconciler.
type OperatorPatch struct {
	Category      Field[string]  `json:"category"`
	ContactStatus Field[string]  `json:"contact_status"`
	PromoPrice    Field[float64] `json:"promo_price"`
	Notes         Field[string]  `json:"notes"`
	ReviewedBy    Field[string]  `json:"reviewed_by"`
}

// Empty reports whether the patch carries no fields at all.
func (p OperatorPatch) Empty() bool {
	return !p.Category.Present &&
		!p.ContactStatus.Present &&
		!p.PromoPrice.Present &&
		!p.Notes.Present &&
		!p.ReviewedBy.Present
}

// Apply returns attrs with the patch applied. ReviewedAt is stamped by
// the caller when ReviewedBy changes.
func (p OperatorPatch) Apply(attrs OperatorAttributes) OperatorAttributes {
	if p.Category.Present {
		attrs.Category = p.Category.Value
	}
	if p.ContactStatus.Present {
		attrs.ContactStatus = p.ContactStatus.Value
	}
	if p.PromoPrice.Present {
		attrs.PromoPrice = p.PromoPrice.Value
	}
	if p.Notes.Present {
		attrs.Notes = p.Notes.Value
	}
	if p.ReviewedBy.Present {
		attrs.ReviewedBy = p.ReviewedBy.Value
	}
	return attrs
}
