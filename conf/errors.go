package conf

import (
	"github.com/joomcode/errorx"
)

var (
	ConfErrors = errorx.NewNamespace("conf")

	ValidateError = ConfErrors.NewType("validate")
	EnvFileError  = ConfErrors.NewType("envfile")
	ExpandError   = ConfErrors.NewType("expand")
)
