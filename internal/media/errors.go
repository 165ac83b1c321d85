package media

import "errors"

var (
	ErrNoFile          = errors.New("no file supplied")
	ErrFileTooLarge    = errors.New("file size exceeds maximum allowed size")
	ErrUnsupportedType = errors.New("file is not a supported image type")
	ErrForeignURL      = errors.New("url does not belong to this bucket")
	ErrInvalidConfig   = errors.New("invalid media configuration")

	ErrAccessDenied       = errors.New("access denied")
	ErrBucketNotFound     = errors.New("bucket not found")
	ErrServiceUnavailable = errors.New("media host temporarily unavailable")
	ErrUploadTimeout      = errors.New("upload timed out")
)
