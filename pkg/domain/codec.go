package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidDocument is returned when a stored document does not match the
// record schema.
var ErrInvalidDocument = errors.New("invalid document")

// TimeLayout is fixed width and UTC so that string order equals time order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// WallpaperDocument encodes w for storage. The id is the document key and is
// not duplicated into the body.
func WallpaperDocument(w Wallpaper) map[string]any {
	doc := map[string]any{
		FieldOwnerUID:  w.OwnerUID,
		FieldTitle:     w.Title,
		"imageUrl":     w.ImageURL,
		"imagePath":    w.ImagePath,
		FieldTags:      stringsToAny(NormalizeTags(w.Tags)),
		FieldIsPublic:  w.IsPublic,
		FieldCreatedAt: FormatTime(w.CreatedAt),
		FieldUpdatedAt: FormatTime(w.UpdatedAt),
	}
	if w.Description != "" {
		doc["description"] = w.Description
	}
	if w.Category != "" {
		doc[FieldCategory] = w.Category
	}
	return doc
}

// WallpaperFromDocument validates doc and decodes it into a Wallpaper.
func WallpaperFromDocument(id string, doc map[string]any) (Wallpaper, error) {
	d := decoder{doc: doc}
	w := Wallpaper{
		ID:          id,
		OwnerUID:    d.requiredString(FieldOwnerUID),
		Title:       d.requiredString(FieldTitle),
		Description: d.optionalString("description"),
		ImageURL:    d.optionalString("imageUrl"),
		ImagePath:   d.requiredString("imagePath"),
		Tags:        d.stringSet(FieldTags),
		Category:    d.optionalString(FieldCategory),
		IsPublic:    d.requiredBool(FieldIsPublic),
		CreatedAt:   d.requiredTime(FieldCreatedAt),
		UpdatedAt:   d.requiredTime(FieldUpdatedAt),
	}
	if d.err != nil {
		return Wallpaper{}, fmt.Errorf("wallpaper %s: %w", id, d.err)
	}
	return w, nil
}

// WallpaperPatchDocument converts a patch to the fields it changes, stamping
// updatedAt.
func WallpaperPatchDocument(p WallpaperPatch, now time.Time) map[string]any {
	doc := map[string]any{FieldUpdatedAt: FormatTime(now)}
	if p.Title != nil {
		doc[FieldTitle] = *p.Title
	}
	if p.Description != nil {
		doc["description"] = *p.Description
	}
	if p.Tags != nil {
		doc[FieldTags] = stringsToAny(NormalizeTags(*p.Tags))
	}
	if p.Category != nil {
		doc[FieldCategory] = *p.Category
	}
	if p.IsPublic != nil {
		doc[FieldIsPublic] = *p.IsPublic
	}
	return doc
}

// UserDocument encodes u for storage under users/{uid}.
func UserDocument(u User) map[string]any {
	doc := map[string]any{
		"uid":          u.UID,
		"name":         u.Name,
		"lastName":     u.LastName,
		"email":        u.Email,
		FieldCreatedAt: FormatTime(u.CreatedAt),
	}
	if u.Phone != "" {
		doc["phone"] = u.Phone
	}
	if u.Bio != "" {
		doc["bio"] = u.Bio
	}
	if u.UpdatedAt != nil {
		doc[FieldUpdatedAt] = FormatTime(*u.UpdatedAt)
	}
	return doc
}

// UserFromDocument validates doc and decodes it into a User.
func UserFromDocument(uid string, doc map[string]any) (User, error) {
	d := decoder{doc: doc}
	u := User{
		UID:       uid,
		Name:      d.optionalString("name"),
		LastName:  d.optionalString("lastName"),
		Email:     d.requiredString("email"),
		Phone:     d.optionalString("phone"),
		Bio:       d.optionalString("bio"),
		CreatedAt: d.requiredTime(FieldCreatedAt),
	}
	if _, ok := doc[FieldUpdatedAt]; ok {
		ts := d.requiredTime(FieldUpdatedAt)
		u.UpdatedAt = &ts
	}
	if stored := d.optionalString("uid"); stored != "" && stored != uid {
		d.fail("uid", "does not match document id")
	}
	if d.err != nil {
		return User{}, fmt.Errorf("user %s: %w", uid, d.err)
	}
	return u, nil
}

// UserPatchDocument converts a profile patch, stamping updatedAt.
func UserPatchDocument(p UserPatch, now time.Time) map[string]any {
	doc := map[string]any{FieldUpdatedAt: FormatTime(now)}
	if p.Name != nil {
		doc["name"] = *p.Name
	}
	if p.LastName != nil {
		doc["lastName"] = *p.LastName
	}
	if p.Phone != nil {
		doc["phone"] = *p.Phone
	}
	if p.Bio != nil {
		doc["bio"] = *p.Bio
	}
	return doc
}

// decoder keeps the first schema violation and ignores the rest.
type decoder struct {
	doc map[string]any
	err error
}

func (d *decoder) fail(field, reason string) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: field %q %s", ErrInvalidDocument, field, reason)
	}
}

func (d *decoder) requiredString(field string) string {
	v, ok := d.doc[field]
	if !ok || v == nil {
		d.fail(field, "is missing")
		return ""
	}
	s, ok := v.(string)
	if !ok {
		d.fail(field, fmt.Sprintf("must be a string, got %T", v))
		return ""
	}
	if s == "" {
		d.fail(field, "is empty")
	}
	return s
}

func (d *decoder) optionalString(field string) string {
	v, ok := d.doc[field]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		d.fail(field, fmt.Sprintf("must be a string, got %T", v))
		return ""
	}
	return s
}

func (d *decoder) requiredBool(field string) bool {
	v, ok := d.doc[field]
	if !ok || v == nil {
		d.fail(field, "is missing")
		return false
	}
	b, ok := v.(bool)
	if !ok {
		d.fail(field, fmt.Sprintf("must be a boolean, got %T", v))
	}
	return b
}

func (d *decoder) requiredTime(field string) time.Time {
	v, ok := d.doc[field]
	if !ok || v == nil {
		d.fail(field, "is missing")
		return time.Time{}
	}
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			d.fail(field, "is not a timestamp")
			return time.Time{}
		}
		return parsed.UTC()
	default:
		d.fail(field, fmt.Sprintf("must be a timestamp, got %T", v))
		return time.Time{}
	}
}

func (d *decoder) stringSet(field string) []string {
	v, ok := d.doc[field]
	if !ok || v == nil {
		return []string{}
	}
	switch list := v.(type) {
	case []string:
		return NormalizeTags(list)
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				d.fail(field, fmt.Sprintf("must contain strings, got %T", item))
				return nil
			}
			out = append(out, s)
		}
		return NormalizeTags(out)
	default:
		d.fail(field, fmt.Sprintf("must be a list, got %T", v))
		return nil
	}
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
