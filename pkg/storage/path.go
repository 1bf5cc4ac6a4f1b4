package storage

import (
	"fmt"
	"path"
	"strings"
	"time"
)

var extByContentType = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/gif":  "gif",
}

// ObjectKey resolves where a blob is written. A destination ending in "/" is
// a directory and gets a generated {millis}_{token}.{ext} name; anything
// else is used as the key verbatim.
func ObjectKey(destination, filename, contentType string, now time.Time, token string) string {
	if destination != "" && !strings.HasSuffix(destination, "/") {
		return destination
	}
	name := fmt.Sprintf("%d_%s", now.UnixMilli(), token)
	if ext := extension(filename, contentType); ext != "" {
		name += "." + ext
	}
	return destination + name
}

// UserDirectory is the per-owner prefix for wallpaper images.
func UserDirectory(root, uid string) string {
	root = strings.Trim(root, "/")
	if root == "" {
		return uid + "/"
	}
	return root + "/" + uid + "/"
}

func extension(filename, contentType string) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(filename)), ".")
	if ext != "" && isSafeExt(ext) {
		return ext
	}
	return extByContentType[strings.ToLower(contentType)]
}

func isSafeExt(ext string) bool {
	if len(ext) > 8 {
		return false
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
