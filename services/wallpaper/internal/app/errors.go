package app

import (
	"errors"

	"wallpapers/pkg/fault"
)

var (
	ErrValidation      = errors.New("invalid input")
	ErrNotFound        = errors.New("wallpaper not found")
	ErrProfileNotFound = errors.New("profile not found")
	ErrUnauthenticated = errors.New("sign in required")
	ErrRateLimited     = errors.New("too many uploads, try again later")
	ErrUnsupported     = errors.New("applying wallpapers is not available on this device")

	// ErrForbidden carries the permission class so callers that only look at
	// fault classes treat it like a backend permission denial.
	ErrForbidden = fault.New(fault.Permission, "only the owner can change this wallpaper")

	// ErrApplyPermission is returned when the device refuses wallpaper access.
	ErrApplyPermission = fault.New(fault.Permission, "wallpaper permission not granted")
)
