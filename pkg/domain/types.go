package domain

import (
	"strings"
	"time"
)

// Collections used in the document store.
const (
	CollectionUsers      = "users"
	CollectionWallpapers = "wallpapers"
)

// Fields that queries filter or order on.
const (
	FieldOwnerUID  = "ownerUid"
	FieldIsPublic  = "isPublic"
	FieldTags      = "tags"
	FieldCategory  = "category"
	FieldImagePath = "imagePath"
	FieldTitle     = "title"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
)

// User is the profile persisted under users/{uid}. It is never deleted.
type User struct {
	UID       string     `json:"uid"`
	Name      string     `json:"name"`
	LastName  string     `json:"lastName"`
	Email     string     `json:"email"`
	Phone     string     `json:"phone,omitempty"`
	Bio       string     `json:"bio,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// Wallpaper is an uploaded image plus the metadata describing it.
type Wallpaper struct {
	ID          string    `json:"id"`
	OwnerUID    string    `json:"ownerUid"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	ImageURL    string    `json:"imageUrl"`
	ImagePath   string    `json:"imagePath"`
	Tags        []string  `json:"tags"`
	Category    string    `json:"category,omitempty"`
	IsPublic    bool      `json:"isPublic"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// UploadResult is the transient outcome of an object upload.
type UploadResult struct {
	Success bool   `json:"success"`
	URL     string `json:"url,omitempty"`
	Path    string `json:"path,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Blob is an in-memory file. Keeping the bytes lets an upload be retried.
type Blob struct {
	Name        string
	ContentType string
	Data        []byte
}

// Size returns the number of bytes in the blob.
func (b Blob) Size() int64 { return int64(len(b.Data)) }

// NewWallpaper is the caller-supplied metadata for a create.
type NewWallpaper struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Category    string   `json:"category,omitempty"`
	IsPublic    bool     `json:"isPublic"`
}

// WallpaperPatch is a partial update; nil fields are left alone.
type WallpaperPatch struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
	Category    *string   `json:"category,omitempty"`
	IsPublic    *bool     `json:"isPublic,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p WallpaperPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Tags == nil && p.Category == nil && p.IsPublic == nil
}

// UserPatch is a partial profile update.
type UserPatch struct {
	Name     *string `json:"name,omitempty"`
	LastName *string `json:"lastName,omitempty"`
	Phone    *string `json:"phone,omitempty"`
	Bio      *string `json:"bio,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p UserPatch) Empty() bool {
	return p.Name == nil && p.LastName == nil && p.Phone == nil && p.Bio == nil
}

// SortDirection orders listings.
type SortDirection string

const (
	Asc  SortDirection = "asc"
	Desc SortDirection = "desc"
)

// WallpaperFilter narrows a listing.
type WallpaperFilter struct {
	OwnerUID  string        `json:"uid,omitempty"`
	IsPublic  *bool         `json:"isPublic,omitempty"`
	Tags      []string      `json:"tags,omitempty"`
	Category  string        `json:"category,omitempty"`
	Limit     int           `json:"limit,omitempty"`
	OrderBy   string        `json:"orderBy,omitempty"`
	Direction SortDirection `json:"orderDirection,omitempty"`
}

// NormalizeTags trims, drops empties and de-duplicates, keeping first-seen order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
