// Package files validates candidate uploads before any storage or
// network call. The same check runs client-side and server-side, so it
// must stay a pure function of the declared size and MIME type.
package files

import "fmt"

// MaxFileSize is the upload ceiling, 10 MiB.
const MaxFileSize = 10 * 1024 * 1024

const (
	MimeJPEG = "image/jpeg"
	MimePNG  = "image/png"
	MimeWebP = "image/webp"
)

type Options struct {
	// AllowWebP extends the accepted types with image/webp. The
	// storage-side variant of the validator enables it.
	AllowWebP bool
}

type Result struct {
	Valid  bool
	Reason string
}

// Validate checks declared size and MIME type against the upload rules.
// It trusts neither value; the caller re-runs it server-side.
func Validate(size int64, mimeType string, opts Options) Result {
	if size > MaxFileSize {
		return Result{Valid: false, Reason: "File size exceeds 10MB limit"}
	}

	switch mimeType {
	case MimeJPEG, MimePNG:
		return Result{Valid: true}
	case MimeWebP:
		if opts.AllowWebP {
			return Result{Valid: true}
		}
	}

	if opts.AllowWebP {
		return Result{Valid: false, Reason: "Only JPG, PNG, and WEBP files allowed"}
	}
	return Result{Valid: false, Reason: fmt.Sprintf("Only JPG and PNG files are supported, got %s", mimeType)}
}
