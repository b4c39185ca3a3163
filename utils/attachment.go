package utils

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// MaxAttachmentSize limits incoming attachments (10MB)
const MaxAttachmentSize = 10 * 1024 * 1024

// DecodeAttachmentData decodes base64 attachment payloads received over the API
func DecodeAttachmentData(b64 string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode attachment data: %w", err)
	}
	if len(data) > MaxAttachmentSize {
		return nil, fmt.Errorf("attachment exceeds maximum size of %s", FormatFileSize(MaxAttachmentSize))
	}
	return data, nil
}

// EncodeAttachmentData encodes raw attachment bytes for JSON transport
func EncodeAttachmentData(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// IsImageMime reports whether a mime type describes an image
func IsImageMime(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/")
}

// IsTextMime reports whether a mime type describes embeddable text
func IsTextMime(mimeType string) bool {
	if strings.HasPrefix(mimeType, "text/") {
		return true
	}
	switch mimeType {
	case "application/json", "application/xml", "application/javascript", "application/x-yaml":
		return true
	}
	return false
}

// FormatFileSize renders a byte count as a human-readable string
func FormatFileSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
