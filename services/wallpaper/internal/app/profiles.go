package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"wallpapers/pkg/domain"
	"wallpapers/pkg/session"
	"wallpapers/pkg/store"
)

const maxBioRunes = 500

// Identity is a caller whose ID token has been verified.
type Identity struct {
	UID   string
	Email string
	Name  string
}

// ProfileInput is the registration form.
type ProfileInput struct {
	Name     string `json:"name"`
	LastName string `json:"lastName"`
	Phone    string `json:"phone,omitempty"`
	Bio      string `json:"bio,omitempty"`
}

// RegisterProfile writes the profile for a newly registered identity. A
// repeated registration keeps the original createdAt.
func (a *App) RegisterProfile(ctx context.Context, id Identity, in ProfileInput) (domain.User, error) {
	if err := validateIdentity(id); err != nil {
		return domain.User{}, err
	}
	in.Name = strings.TrimSpace(in.Name)
	in.LastName = strings.TrimSpace(in.LastName)
	if in.Name == "" {
		return domain.User{}, fmt.Errorf("%w: name required", ErrValidation)
	}
	if utf8.RuneCountInString(in.Bio) > maxBioRunes {
		return domain.User{}, fmt.Errorf("%w: bio longer than %d characters", ErrValidation, maxBioRunes)
	}
	ctx = a.userContext(ctx, id.UID)
	now := a.now().UTC()
	u := domain.User{
		UID:       id.UID,
		Name:      in.Name,
		LastName:  in.LastName,
		Email:     strings.TrimSpace(id.Email),
		Phone:     strings.TrimSpace(in.Phone),
		Bio:       strings.TrimSpace(in.Bio),
		CreatedAt: now,
	}
	existing, err := a.readProfile(ctx, id.UID, "register")
	switch {
	case err == nil:
		u.CreatedAt = existing.CreatedAt
		u.UpdatedAt = &now
	case !errors.Is(err, ErrProfileNotFound):
		return domain.User{}, err
	}
	if err := a.documents.Create(ctx, domain.CollectionUsers, id.UID, domain.UserDocument(u)); err != nil {
		return domain.User{}, a.report(ctx, id.UID, "register", fmt.Errorf("save profile: %w", err))
	}
	return u, nil
}

// EnsureProfile returns the profile for id, creating a minimal one on first
// sign-in.
func (a *App) EnsureProfile(ctx context.Context, id Identity) (domain.User, error) {
	if err := validateIdentity(id); err != nil {
		return domain.User{}, err
	}
	ctx = a.userContext(ctx, id.UID)
	u, err := a.readProfile(ctx, id.UID, "sign_in")
	if err == nil || !errors.Is(err, ErrProfileNotFound) {
		return u, err
	}
	u = domain.User{
		UID:       id.UID,
		Name:      displayName(id),
		Email:     strings.TrimSpace(id.Email),
		CreatedAt: a.now().UTC(),
	}
	if err := a.documents.Create(ctx, domain.CollectionUsers, id.UID, domain.UserDocument(u)); err != nil {
		return domain.User{}, a.report(ctx, id.UID, "sign_in", fmt.Errorf("create profile: %w", err))
	}
	a.logger.Info("profile created on first sign-in", "uid", id.UID)
	return u, nil
}

// GetProfile returns the stored profile.
func (a *App) GetProfile(ctx context.Context, uid string) (domain.User, error) {
	if strings.TrimSpace(uid) == "" {
		return domain.User{}, ErrUnauthenticated
	}
	return a.readProfile(a.userContext(ctx, uid), uid, "get_profile")
}

// UpdateProfile merges patch into the profile and returns the result.
func (a *App) UpdateProfile(ctx context.Context, uid string, patch domain.UserPatch) (domain.User, error) {
	if strings.TrimSpace(uid) == "" {
		return domain.User{}, ErrUnauthenticated
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return domain.User{}, fmt.Errorf("%w: name cannot be empty", ErrValidation)
	}
	if patch.Bio != nil && utf8.RuneCountInString(*patch.Bio) > maxBioRunes {
		return domain.User{}, fmt.Errorf("%w: bio longer than %d characters", ErrValidation, maxBioRunes)
	}
	ctx = a.userContext(ctx, uid)
	if patch.Empty() {
		return a.readProfile(ctx, uid, "update_profile")
	}
	err := a.documents.Update(ctx, domain.CollectionUsers, uid, domain.UserPatchDocument(patch, a.now().UTC()))
	if errors.Is(err, store.ErrNotFound) {
		return domain.User{}, ErrProfileNotFound
	}
	if err != nil {
		return domain.User{}, a.report(ctx, uid, "update_profile", fmt.Errorf("update profile: %w", err))
	}
	return a.readProfile(ctx, uid, "update_profile")
}

func (a *App) readProfile(ctx context.Context, uid, op string) (domain.User, error) {
	doc, ok, err := a.documents.Read(ctx, domain.CollectionUsers, uid)
	if err != nil {
		return domain.User{}, a.report(ctx, uid, op, fmt.Errorf("read profile: %w", err))
	}
	if !ok {
		return domain.User{}, ErrProfileNotFound
	}
	return domain.UserFromDocument(uid, doc)
}

func validateIdentity(id Identity) error {
	if strings.TrimSpace(id.UID) == "" {
		return ErrUnauthenticated
	}
	if strings.TrimSpace(id.Email) == "" {
		return fmt.Errorf("%w: identity has no email", ErrValidation)
	}
	return nil
}

func displayName(id Identity) string {
	if name := strings.TrimSpace(id.Name); name != "" {
		return name
	}
	local, _, _ := strings.Cut(strings.TrimSpace(id.Email), "@")
	return local
}

// Session tracks the signed-in user of one embedded client and publishes
// every change to subscribers.
type Session struct {
	app  *App
	cell *session.Cell[domain.User]
}

// NewSession returns a signed-out session.
func (a *App) NewSession() *Session {
	return &Session{app: a, cell: session.NewCell[domain.User]()}
}

// SignIn loads or creates the profile for id and publishes it.
func (s *Session) SignIn(ctx context.Context, id Identity) (domain.User, error) {
	u, err := s.app.EnsureProfile(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	if err := s.cell.Set(u); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// SignOut clears the current user.
func (s *Session) SignOut() error {
	return s.cell.Clear()
}

// Current returns the signed-in user, if any.
func (s *Session) Current() (domain.User, bool) {
	return s.cell.Get()
}

// Subscribe follows sign-in, sign-out and profile changes.
func (s *Session) Subscribe() (<-chan session.Update[domain.User], func()) {
	return s.cell.Subscribe()
}

// UpdateProfile updates the signed-in user's profile and republishes it.
func (s *Session) UpdateProfile(ctx context.Context, patch domain.UserPatch) (domain.User, error) {
	cur, ok := s.cell.Get()
	if !ok {
		return domain.User{}, ErrUnauthenticated
	}
	u, err := s.app.UpdateProfile(ctx, cur.UID, patch)
	if err != nil {
		return domain.User{}, err
	}
	if err := s.cell.Set(u); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// Close ends the session and closes every subscription.
func (s *Session) Close() {
	s.cell.Close()
}
