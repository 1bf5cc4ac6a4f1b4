package app

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"wallpapers/pkg/fault"
	"wallpapers/pkg/storage"
)

type device struct {
	status    PermissionStatus
	grant     bool
	requested bool
	applied   map[Target]string
}

func (d *device) CheckPermissions(context.Context) (PermissionStatus, error) { return d.status, nil }

func (d *device) RequestPermissions(context.Context) (PermissionStatus, error) {
	d.requested = true
	d.status.Granted = d.grant
	return d.status, nil
}

func (d *device) set(target Target, img string) (CapabilityResult, error) {
	if d.applied == nil {
		d.applied = map[Target]string{}
	}
	d.applied[target] = img
	return CapabilityResult{Success: true, Message: "ok"}, nil
}

func (d *device) SetHome(_ context.Context, img string) (CapabilityResult, error) {
	return d.set(TargetHome, img)
}

func (d *device) SetLock(_ context.Context, img string) (CapabilityResult, error) {
	return d.set(TargetLock, img)
}

func (d *device) SetBoth(_ context.Context, img string) (CapabilityResult, error) {
	return d.set(TargetBoth, img)
}

// imageFixture serves the in-memory objects over HTTP so image URLs resolve.
func imageFixture(t *testing.T, dev Capability) *fixture {
	t.Helper()
	var mem *storage.MemoryStore
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, contentType, ok := mem.Object(strings.TrimPrefix(r.URL.Path, "/"))
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(data)
	}))
	t.Cleanup(srv.Close)
	mem = storage.NewMemoryStore(srv.URL)
	f := newFixture(t, func(c *Config) {
		c.Capability = dev
		c.HTTPClient = srv.Client()
	})
	f.objects.MemoryStore = mem
	return f
}

func TestApplyWallpaperRequestsPermissionAndSetsImage(t *testing.T) {
	dev := &device{status: PermissionStatus{Supported: true}, grant: true}
	f := imageFixture(t, dev)
	w := f.create(t, "U1", "Aurora", true)

	res, err := f.app.ApplyWallpaper(context.Background(), "U2", w.ID, TargetLock)
	if err != nil || !res.Success {
		t.Fatalf("apply: %+v %v", res, err)
	}
	if !dev.requested {
		t.Fatalf("expected permission request")
	}
	raw, err := base64.StdEncoding.DecodeString(dev.applied[TargetLock])
	if err != nil || len(raw) != 1024 || raw[0] != 0xFF {
		t.Fatalf("device received wrong image (%d bytes, %v)", len(raw), err)
	}
}

func TestApplyWallpaperNormalizesTarget(t *testing.T) {
	dev := &device{status: PermissionStatus{Supported: true, Granted: true}}
	f := imageFixture(t, dev)
	w := f.create(t, "U1", "Aurora", true)

	if _, err := f.app.ApplyWallpaper(context.Background(), "U1", w.ID, Target(" Home ")); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, ok := dev.applied[TargetHome]; !ok || len(dev.applied) != 1 {
		t.Fatalf("expected only the home screen set, got %v", keysOf(dev.applied))
	}
}

func keysOf(m map[Target]string) []Target {
	out := make([]Target, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestApplyWallpaperPermissionDenied(t *testing.T) {
	dev := &device{status: PermissionStatus{Supported: true}, grant: false}
	f := imageFixture(t, dev)
	w := f.create(t, "U1", "Aurora", true)

	_, err := f.app.ApplyWallpaper(context.Background(), "U1", w.ID, TargetHome)
	if !errors.Is(err, ErrApplyPermission) || fault.Classify(err) != fault.Permission {
		t.Fatalf("expected permission error, got %v", err)
	}
	if len(dev.applied) != 0 {
		t.Fatalf("nothing should be applied without permission")
	}
	if n := f.notes.terminal(); len(n) != 1 || n[0].Op != "apply" {
		t.Fatalf("expected one apply notice, got %+v", n)
	}
}

func TestApplyWallpaperUnsupported(t *testing.T) {
	f := newFixture(t)
	if _, err := f.app.ApplyWallpaper(context.Background(), "U1", "x", TargetBoth); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
	f = imageFixture(t, &device{})
	if _, err := f.app.ApplyWallpaper(context.Background(), "U1", "x", TargetBoth); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported for unsupported device, got %v", err)
	}
	if _, err := ParseTarget("desktop"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected unknown target rejected, got %v", err)
	}
}

func TestWallpaperImageClassifiesServerErrors(t *testing.T) {
	f := imageFixture(t, nil)
	w := f.create(t, "U1", "Gone", true)
	_ = f.objects.MemoryStore.Delete(context.Background(), w.ImagePath)

	if _, err := f.app.WallpaperImage(context.Background(), "U1", w.ID); fault.Classify(err) != fault.Generic {
		t.Fatalf("expected generic failure for a missing image, got %v", err)
	}
	if _, err := f.app.WallpaperImage(context.Background(), "U1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if statusError(http.StatusServiceUnavailable).(*fault.Error).Class != fault.Network {
		t.Fatalf("expected 503 to be a network failure")
	}
	if statusError(http.StatusForbidden).(*fault.Error).Class != fault.Permission {
		t.Fatalf("expected 403 to be a permission failure")
	}
}
