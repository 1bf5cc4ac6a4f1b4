package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"wallpapers/pkg/domain"
	"wallpapers/pkg/fault"
	"wallpapers/pkg/storage"
	"wallpapers/pkg/store"
)

const (
	maxTitleRunes       = 120
	maxDescriptionRunes = 1000
	defaultListLimit    = 20
	maxListLimit        = 100
	searchScanLimit     = 500
)

// CreateWallpaper uploads the image and then persists the record pointing at
// it. If the record cannot be written the upload is rolled back; an object
// that cannot be removed is handed to the cleanup queue.
func (a *App) CreateWallpaper(ctx context.Context, uid string, meta domain.NewWallpaper, blob domain.Blob) (domain.Wallpaper, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return domain.Wallpaper{}, ErrUnauthenticated
	}
	meta.Title = strings.TrimSpace(meta.Title)
	meta.Description = strings.TrimSpace(meta.Description)
	meta.Category = strings.TrimSpace(meta.Category)
	if err := validateText(meta.Title, meta.Description); err != nil {
		return domain.Wallpaper{}, err
	}
	contentType, err := a.validateImage(blob)
	if err != nil {
		return domain.Wallpaper{}, err
	}
	// the stored extension follows the sniffed type, never the client's file name
	blob.ContentType = contentType
	blob.Name = ""
	if err := a.allowUpload(ctx, uid); err != nil {
		return domain.Wallpaper{}, err
	}

	// the two steps must finish together even if the caller goes away
	ctx = a.userContext(context.WithoutCancel(ctx), uid)

	res, err := a.objects.Upload(ctx, blob, storage.UserDirectory(imageRoot, uid))
	if err != nil {
		if res.Path != "" {
			a.compensate(ctx, "", res.Path)
		}
		return domain.Wallpaper{}, a.report(ctx, uid, "create", fmt.Errorf("upload image: %w", err))
	}

	now := a.now().UTC()
	w := domain.Wallpaper{
		OwnerUID:    uid,
		Title:       meta.Title,
		Description: meta.Description,
		ImageURL:    res.URL,
		ImagePath:   res.Path,
		Tags:        domain.NormalizeTags(meta.Tags),
		Category:    meta.Category,
		IsPublic:    meta.IsPublic,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	id, err := a.documents.CreateAutoID(ctx, domain.CollectionWallpapers, domain.WallpaperDocument(w))
	if err != nil {
		a.compensate(ctx, id, res.Path)
		return domain.Wallpaper{}, a.report(ctx, uid, "create", fmt.Errorf("save wallpaper: %w", err))
	}
	w.ID = id
	a.logger.Info("wallpaper created", "wallpaper_id", id, "uid", uid, "path", res.Path, "bytes", blob.Size())
	return w, nil
}

// compensate undoes a half-finished create. A record write with an unknown
// outcome is removed first so no record is left pointing at the deleted image.
// If that removal fails the record may be live, so the object is only queued:
// the cleanup worker deletes it once nothing references the path.
func (a *App) compensate(ctx context.Context, id, path string) {
	if id != "" {
		err := a.documents.Delete(ctx, domain.CollectionWallpapers, id)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			a.logger.Error("rollback of wallpaper record failed, keeping image", "wallpaper_id", id, "path", path, "err", err)
			a.queueCompensation(ctx, path, "record rollback failed: "+err.Error())
			return
		}
	}
	if _, err := a.objects.Delete(ctx, path); err != nil {
		a.logger.Error("compensating delete failed", "path", path, "err", err)
		a.queueCompensation(ctx, path, "compensating delete failed: "+err.Error())
		return
	}
	a.logger.Info("compensating delete done", "path", path)
	a.metrics.Compensation("ok")
}

func (a *App) queueCompensation(ctx context.Context, path, reason string) {
	if a.enqueueOrphan(ctx, path, reason) {
		a.metrics.Compensation("queued")
	} else {
		a.metrics.Compensation("failed")
	}
}

func (a *App) enqueueOrphan(ctx context.Context, path, reason string) bool {
	if a.orphans == nil {
		return false
	}
	job, err := a.orphans.Enqueue(ctx, path, reason)
	if err != nil {
		a.logger.Error("orphan cleanup enqueue failed", "path", path, "err", err)
		return false
	}
	a.logger.Info("orphaned object queued for cleanup", "path", path, "job_id", job.ID)
	return true
}

// UpdateWallpaper applies patch to a wallpaper owned by uid.
func (a *App) UpdateWallpaper(ctx context.Context, uid, id string, patch domain.WallpaperPatch) (domain.Wallpaper, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return domain.Wallpaper{}, ErrUnauthenticated
	}
	if err := validatePatch(&patch); err != nil {
		return domain.Wallpaper{}, err
	}
	ctx = a.userContext(ctx, uid)
	w, err := a.owned(ctx, uid, id, "update")
	if err != nil {
		return domain.Wallpaper{}, err
	}
	if patch.Empty() {
		return a.withURL(ctx, w), nil
	}
	now := a.now().UTC()
	if err := a.documents.Update(ctx, domain.CollectionWallpapers, id, domain.WallpaperPatchDocument(patch, now)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Wallpaper{}, ErrNotFound
		}
		return domain.Wallpaper{}, a.report(ctx, uid, "update", fmt.Errorf("update wallpaper: %w", err))
	}
	applyPatch(&w, patch)
	w.UpdatedAt = now
	return a.withURL(ctx, w), nil
}

// DeleteWallpaper removes the record and then its image. Deleting something
// that is already gone succeeds. A failed image delete is logged and queued
// but never reported, since the record is already gone.
func (a *App) DeleteWallpaper(ctx context.Context, uid, id string) error {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return ErrUnauthenticated
	}
	ctx = a.userContext(ctx, uid)
	w, err := a.owned(ctx, uid, id, "delete")
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	err = a.documents.Delete(ctx, domain.CollectionWallpapers, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return a.report(ctx, uid, "delete", fmt.Errorf("delete wallpaper: %w", err))
	}
	if _, err := a.objects.Delete(ctx, w.ImagePath); err != nil {
		a.logger.Warn("wallpaper image delete failed", "wallpaper_id", id, "path", w.ImagePath, "err", err)
		a.enqueueOrphan(ctx, w.ImagePath, "image delete after record delete failed: "+err.Error())
	}
	a.logger.Info("wallpaper deleted", "wallpaper_id", id, "uid", uid)
	return nil
}

// GetWallpaper returns a wallpaper visible to uid. Private wallpapers of other
// users read as not found.
func (a *App) GetWallpaper(ctx context.Context, uid, id string) (domain.Wallpaper, error) {
	ctx = a.userContext(ctx, uid)
	w, err := a.load(ctx, uid, id, "get")
	if err != nil {
		return domain.Wallpaper{}, err
	}
	if !w.IsPublic && w.OwnerUID != uid {
		return domain.Wallpaper{}, ErrNotFound
	}
	return a.withURL(ctx, w), nil
}

// PublicWallpapers lists public wallpapers. Remote failures yield an empty
// list plus a notification so a screen still renders.
func (a *App) PublicWallpapers(ctx context.Context, uid string, f domain.WallpaperFilter) ([]domain.Wallpaper, error) {
	q, err := buildQuery(f, store.Where(domain.FieldIsPublic, store.OpEq, true))
	if err != nil {
		return nil, err
	}
	return a.list(a.userContext(ctx, uid), uid, "list_public", q), nil
}

// UserWallpapers lists the wallpapers owned by uid, private ones included.
func (a *App) UserWallpapers(ctx context.Context, uid string, f domain.WallpaperFilter) ([]domain.Wallpaper, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return nil, ErrUnauthenticated
	}
	preds := []store.Predicate{store.Where(domain.FieldOwnerUID, store.OpEq, uid)}
	if f.IsPublic != nil {
		preds = append(preds, store.Where(domain.FieldIsPublic, store.OpEq, *f.IsPublic))
	}
	q, err := buildQuery(f, preds...)
	if err != nil {
		return nil, err
	}
	return a.list(a.userContext(ctx, uid), uid, "list_mine", q), nil
}

// SearchWallpapers matches term case-insensitively against title,
// description and tags, newest first. mine restricts the search to the
// caller's own wallpapers.
func (a *App) SearchWallpapers(ctx context.Context, uid, term string, mine bool, limit int) ([]domain.Wallpaper, error) {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return nil, fmt.Errorf("%w: search term required", ErrValidation)
	}
	limit = clampLimit(limit)
	base := store.Where(domain.FieldIsPublic, store.OpEq, true)
	if mine {
		if strings.TrimSpace(uid) == "" {
			return nil, ErrUnauthenticated
		}
		base = store.Where(domain.FieldOwnerUID, store.OpEq, uid)
	}
	q := store.Query{
		Predicates: []store.Predicate{base},
		OrderBy:    domain.FieldCreatedAt,
		Direction:  store.Desc,
		Limit:      searchScanLimit,
	}
	candidates := a.list(a.userContext(ctx, uid), uid, "search", q)
	out := make([]domain.Wallpaper, 0, limit)
	for _, w := range candidates {
		if !matchesTerm(w, term) {
			continue
		}
		out = append(out, w)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (a *App) list(ctx context.Context, uid, op string, q store.Query) []domain.Wallpaper {
	snaps, err := a.documents.Query(ctx, domain.CollectionWallpapers, q)
	if err != nil {
		_ = a.report(ctx, uid, op, err)
		a.logger.Warn("wallpaper listing degraded to empty", "op", op, "err", err)
		return []domain.Wallpaper{}
	}
	out := make([]domain.Wallpaper, 0, len(snaps))
	for _, snap := range snaps {
		w, err := domain.WallpaperFromDocument(snap.ID, snap.Data)
		if err != nil {
			a.logger.Warn("skipping malformed wallpaper", "wallpaper_id", snap.ID, "err", err)
			continue
		}
		out = append(out, a.withURL(ctx, w))
	}
	return out
}

func (a *App) load(ctx context.Context, uid, id, op string) (domain.Wallpaper, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Wallpaper{}, ErrNotFound
	}
	doc, ok, err := a.documents.Read(ctx, domain.CollectionWallpapers, id)
	if err != nil {
		return domain.Wallpaper{}, a.report(ctx, uid, op, fmt.Errorf("read wallpaper: %w", err))
	}
	if !ok {
		return domain.Wallpaper{}, ErrNotFound
	}
	return domain.WallpaperFromDocument(id, doc)
}

// owned re-reads the record and checks it belongs to uid.
func (a *App) owned(ctx context.Context, uid, id, op string) (domain.Wallpaper, error) {
	w, err := a.load(ctx, uid, id, op)
	if err != nil {
		return domain.Wallpaper{}, err
	}
	if w.OwnerUID != uid {
		a.logger.Warn("ownership check failed", "op", op, "wallpaper_id", id, "uid", uid)
		return domain.Wallpaper{}, a.report(ctx, uid, op, ErrForbidden)
	}
	return w, nil
}

// withURL re-resolves the image address under a signed policy. A failure
// keeps the stored URL.
func (a *App) withURL(ctx context.Context, w domain.Wallpaper) domain.Wallpaper {
	if a.objects.Policy() != storage.PolicySigned || w.ImagePath == "" {
		return w
	}
	url, err := a.objects.ResolveURL(ctx, w.ImagePath, 0)
	if err != nil {
		a.logger.Warn("signed url refresh failed", "wallpaper_id", w.ID, "err", err)
		return w
	}
	w.ImageURL = url
	return w
}

func (a *App) allowUpload(ctx context.Context, uid string) error {
	if a.uploads == nil {
		return nil
	}
	decision, err := a.uploads.Allow(ctx, "upload:"+uid)
	if err != nil {
		a.logger.Warn("upload limiter unavailable", "uid", uid, "err", err)
		if !decision.Allowed {
			// the quota is unknown, not exceeded
			return a.report(ctx, uid, "create", fault.Wrap(fault.Network, "uploads.limit", err))
		}
		return nil
	}
	if !decision.Allowed {
		return ErrRateLimited
	}
	return nil
}

// validateImage enforces the size limit and sniffs the real content type.
func (a *App) validateImage(blob domain.Blob) (string, error) {
	if blob.Size() == 0 {
		return "", fmt.Errorf("%w: image is empty", ErrValidation)
	}
	if blob.Size() > a.maxUploadBytes {
		return "", fmt.Errorf("%w: image is larger than %d bytes", ErrValidation, a.maxUploadBytes)
	}
	sniffed := http.DetectContentType(blob.Data)
	if i := strings.IndexByte(sniffed, ';'); i >= 0 {
		sniffed = sniffed[:i]
	}
	if _, ok := a.contentTypes[sniffed]; !ok {
		return "", fmt.Errorf("%w: unsupported image type %s", ErrValidation, sniffed)
	}
	return sniffed, nil
}

func validateText(title, description string) error {
	if title == "" {
		return fmt.Errorf("%w: title required", ErrValidation)
	}
	if utf8.RuneCountInString(title) > maxTitleRunes {
		return fmt.Errorf("%w: title longer than %d characters", ErrValidation, maxTitleRunes)
	}
	if utf8.RuneCountInString(description) > maxDescriptionRunes {
		return fmt.Errorf("%w: description longer than %d characters", ErrValidation, maxDescriptionRunes)
	}
	return nil
}

func validatePatch(p *domain.WallpaperPatch) error {
	title, description := "untitled", ""
	if p.Title != nil {
		t := strings.TrimSpace(*p.Title)
		p.Title = &t
		title = t
	}
	if p.Description != nil {
		d := strings.TrimSpace(*p.Description)
		p.Description = &d
		description = d
	}
	if p.Category != nil {
		c := strings.TrimSpace(*p.Category)
		p.Category = &c
	}
	return validateText(title, description)
}

func applyPatch(w *domain.Wallpaper, p domain.WallpaperPatch) {
	if p.Title != nil {
		w.Title = *p.Title
	}
	if p.Description != nil {
		w.Description = *p.Description
	}
	if p.Tags != nil {
		w.Tags = domain.NormalizeTags(*p.Tags)
	}
	if p.Category != nil {
		w.Category = *p.Category
	}
	if p.IsPublic != nil {
		w.IsPublic = *p.IsPublic
	}
}

var orderFields = map[string]struct{}{
	domain.FieldCreatedAt: {},
	domain.FieldUpdatedAt: {},
	domain.FieldTitle:     {},
}

func buildQuery(f domain.WallpaperFilter, preds ...store.Predicate) (store.Query, error) {
	if tags := domain.NormalizeTags(f.Tags); len(tags) > 0 {
		if len(tags) > store.MaxAnyValues {
			return store.Query{}, fmt.Errorf("%w: at most %d tags per filter", ErrValidation, store.MaxAnyValues)
		}
		values := make([]any, len(tags))
		for i, t := range tags {
			values[i] = t
		}
		preds = append(preds, store.Where(domain.FieldTags, store.OpArrayContainsAny, values))
	}
	if c := strings.TrimSpace(f.Category); c != "" {
		preds = append(preds, store.Where(domain.FieldCategory, store.OpEq, c))
	}
	orderBy := f.OrderBy
	if orderBy == "" {
		orderBy = domain.FieldCreatedAt
	}
	if _, ok := orderFields[orderBy]; !ok {
		return store.Query{}, fmt.Errorf("%w: cannot order by %q", ErrValidation, orderBy)
	}
	dir := store.Desc
	switch f.Direction {
	case "", domain.Desc:
	case domain.Asc:
		dir = store.Asc
	default:
		return store.Query{}, fmt.Errorf("%w: unknown direction %q", ErrValidation, f.Direction)
	}
	return store.Query{
		Predicates: preds,
		OrderBy:    orderBy,
		Direction:  dir,
		Limit:      clampLimit(f.Limit),
	}, nil
}

func clampLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

func matchesTerm(w domain.Wallpaper, term string) bool {
	if strings.Contains(strings.ToLower(w.Title), term) || strings.Contains(strings.ToLower(w.Description), term) {
		return true
	}
	for _, tag := range w.Tags {
		if strings.Contains(strings.ToLower(tag), term) {
			return true
		}
	}
	return false
}
