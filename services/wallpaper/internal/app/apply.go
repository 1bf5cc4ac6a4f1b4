package app

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"

	"wallpapers/pkg/fault"
	"wallpapers/pkg/retry"
)

// Target selects which screen a wallpaper is applied to.
type Target string

const (
	TargetHome Target = "home"
	TargetLock Target = "lock"
	TargetBoth Target = "both"
)

// ParseTarget validates a target name.
func ParseTarget(s string) (Target, error) {
	switch t := Target(strings.ToLower(strings.TrimSpace(s))); t {
	case TargetHome, TargetLock, TargetBoth:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unknown target %q", ErrValidation, s)
	}
}

// CapabilityResult is what the device reports after applying a wallpaper.
type CapabilityResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// PermissionStatus reports whether the device lets the app set wallpapers.
type PermissionStatus struct {
	Granted   bool `json:"granted"`
	Supported bool `json:"supported"`
}

// Capability is the device's wallpaper setter. Images are passed base64
// encoded.
type Capability interface {
	CheckPermissions(ctx context.Context) (PermissionStatus, error)
	RequestPermissions(ctx context.Context) (PermissionStatus, error)
	SetHome(ctx context.Context, imageBase64 string) (CapabilityResult, error)
	SetLock(ctx context.Context, imageBase64 string) (CapabilityResult, error)
	SetBoth(ctx context.Context, imageBase64 string) (CapabilityResult, error)
}

// ImagePayload is an image ready to hand to the device.
type ImagePayload struct {
	ContentType string `json:"contentType"`
	Base64      string `json:"base64"`
}

// WallpaperImage downloads the image of a wallpaper visible to uid.
func (a *App) WallpaperImage(ctx context.Context, uid, id string) (ImagePayload, error) {
	w, err := a.GetWallpaper(ctx, uid, id)
	if err != nil {
		return ImagePayload{}, err
	}
	ctx = a.userContext(ctx, uid)
	opts := []retry.Option{
		retry.WithOp("images.fetch"),
		retry.WithPolicy(a.retryPolicy),
		retry.WithObserver(a.metrics.Observer("images")),
	}
	if a.sleep != nil {
		opts = append(opts, retry.WithSleeper(a.sleep))
	}
	payload, err := retry.Value(ctx, func(ctx context.Context) (ImagePayload, error) {
		return a.fetchImage(ctx, w.ImageURL)
	}, opts...)
	if err != nil {
		return ImagePayload{}, a.report(ctx, uid, "download", fmt.Errorf("fetch image: %w", err))
	}
	return payload, nil
}

// ApplyWallpaper sets the wallpaper on the device, asking for permission
// first when needed.
func (a *App) ApplyWallpaper(ctx context.Context, uid, id string, target Target) (CapabilityResult, error) {
	if a.capability == nil {
		return CapabilityResult{}, ErrUnsupported
	}
	target, err := ParseTarget(string(target))
	if err != nil {
		return CapabilityResult{}, err
	}
	ctx = a.userContext(ctx, uid)
	status, err := a.capability.CheckPermissions(ctx)
	if err != nil {
		return CapabilityResult{}, a.report(ctx, uid, "apply", fault.Wrap(fault.Classify(err), "apply", err))
	}
	if !status.Supported {
		return CapabilityResult{}, ErrUnsupported
	}
	if !status.Granted {
		status, err = a.capability.RequestPermissions(ctx)
		if err != nil || !status.Granted {
			return CapabilityResult{}, a.report(ctx, uid, "apply", ErrApplyPermission)
		}
	}
	img, err := a.WallpaperImage(ctx, uid, id)
	if err != nil {
		return CapabilityResult{}, err
	}
	var res CapabilityResult
	switch target {
	case TargetHome:
		res, err = a.capability.SetHome(ctx, img.Base64)
	case TargetLock:
		res, err = a.capability.SetLock(ctx, img.Base64)
	case TargetBoth:
		res, err = a.capability.SetBoth(ctx, img.Base64)
	}
	if err == nil && !res.Success {
		err = fault.New(fault.Generic, res.Message)
	}
	if err != nil {
		return res, a.report(ctx, uid, "apply", fault.Wrap(fault.Classify(err), "apply", err))
	}
	a.logger.Info("wallpaper applied", "uid", uid, "wallpaper_id", id, "target", target)
	return res, nil
}

func (a *App) fetchImage(ctx context.Context, url string) (ImagePayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ImagePayload{}, fault.Wrap(fault.Generic, "images.fetch", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return ImagePayload{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ImagePayload{}, statusError(resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, a.maxUploadBytes+1))
	if err != nil {
		return ImagePayload{}, err
	}
	if int64(len(data)) > a.maxUploadBytes {
		return ImagePayload{}, fault.New(fault.Generic, "image larger than upload limit")
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return ImagePayload{
		ContentType: contentType,
		Base64:      base64.StdEncoding.EncodeToString(data),
	}, nil
}

func statusError(status int) error {
	msg := fmt.Sprintf("image server returned %d", status)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fault.New(fault.Permission, msg)
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return fault.New(fault.Network, msg)
	default:
		return fault.New(fault.Generic, msg)
	}
}
