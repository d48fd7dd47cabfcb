package compose

import (
	"github.com/joomcode/errorx"
)

var (
	ComposeErrors = errorx.NewNamespace("compose")

	ReadError  = ComposeErrors.NewType("read")
	ParseError = ComposeErrors.NewType("parse")
)
