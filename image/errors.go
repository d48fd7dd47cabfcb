package image

import (
	"github.com/joomcode/errorx"
)

var (
	ImageErrors = errorx.NewNamespace("image")

	FetchError    = ImageErrors.NewType("fetch")
	UnpackError   = ImageErrors.NewType("unpack")
	ExtraError    = ImageErrors.NewType("extra")
	MetadataError = ImageErrors.NewType("metadata")
)
