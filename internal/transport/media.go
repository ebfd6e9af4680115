package transport

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// MediaOptions describes one outgoing media message. A zero value means no
// sendable media could be built; callers skip the send in that case.
type MediaOptions struct {
	Kind     string // image, video, audio, document
	Caption  string
	FileName string
	MimeType string
	Data     []byte
}

// IsZero reports whether no media was resolved.
func (o MediaOptions) IsZero() bool {
	return o.Kind == ""
}

// MessageOptions builds the media payload for a file on disk, inferring the
// media kind from the mime type. Anything that is not image, video or audio
// goes out as a document so arbitrary attachments still deliver.
func MessageOptions(fileName, filePath, caption string) (MediaOptions, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return MediaOptions{}, fmt.Errorf("read media %s: %w", filePath, err)
	}

	mimeType := mime.TypeByExtension(filepath.Ext(filePath))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	kind := "document"
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		kind = "image"
	case strings.HasPrefix(mimeType, "video/"):
		kind = "video"
	case strings.HasPrefix(mimeType, "audio/"):
		kind = "audio"
	}

	return MediaOptions{
		Kind:     kind,
		Caption:  caption,
		FileName: fileName,
		MimeType: mimeType,
		Data:     data,
	}, nil
}
