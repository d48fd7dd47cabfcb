package podman

import (
	"github.com/joomcode/errorx"
)

var (
	PodmanErrors = errorx.NewNamespace("podman")

	ConnectError   = PodmanErrors.NewType("connect")
	ImageError     = PodmanErrors.NewType("image")
	BuildError     = PodmanErrors.NewType("build")
	VolumeError    = PodmanErrors.NewType("volume")
	NetworkError   = PodmanErrors.NewType("network")
	ContainerError = PodmanErrors.NewType("container")
)
