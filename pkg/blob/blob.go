// Package blob abstracts binary asset storage for thumbnails and social
// preview images. The interface is deliberately small: the thumbnail queue
// writes images and the API serves the returned URLs.
package blob

import (
	"context"
	"fmt"
)

// Storage stores binary assets under stable keys and returns serveable URLs.
type Storage interface {
	// SaveBytes writes data under key with the given MIME type, overwriting
	// any previous object, and returns the public URL.
	SaveBytes(ctx context.Context, key string, data []byte, mimeType string) (string, error)
}

// Key builders for the two image kinds. Placeholder images swap the
// extension for .svg under the same prefix.

func ThumbnailKey(projectID, pageID, ext string) string {
	return fmt.Sprintf("thumbnails/%s/%s.%s", projectID, pageID, ext)
}

func OGImageKey(projectID, pageID, ext string) string {
	return fmt.Sprintf("og-images/%s/%s.%s", projectID, pageID, ext)
}

// ClientImageKey stores a user-supplied capture for a project page.
func ClientImageKey(projectID, pageID, ext string) string {
	return fmt.Sprintf("client-images/%s/%s.%s", projectID, pageID, ext)
}
