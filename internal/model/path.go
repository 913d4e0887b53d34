package model

import (
	"regexp"
	"strings"
)

// ResourceDirName is the remote directory holding resource blobs.
const ResourceDirName = "Resources"

var itemPathRe = regexp.MustCompile(`^[A-Za-z0-9]+\.md$`)

// SystemPath returns the remote path of an item's serialized form.
func SystemPath(item *Item) string {
	return SystemPathForID(item.ID)
}

// SystemPathForID returns the remote path for an item id.
func SystemPathForID(id string) string {
	return id + ".md"
}

// ResourcePath returns the remote path of a resource blob.
func ResourcePath(id string) string {
	return ResourceDirName + "/" + id
}

// IsItemPath reports whether a remote path names a serialized item at the
// top level. Anything else (directories, resource blobs, lock files, temp
// files) is not an item.
func IsItemPath(path string) bool {
	return itemPathRe.MatchString(path)
}

// ItemIDFromPath extracts the item id from a remote path, with or without
// a directory prefix.
func ItemIDFromPath(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		path = path[i+1:]
	}
	return strings.TrimSuffix(path, ".md")
}
