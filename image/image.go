package image

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/opencontainers/umoci"
	"github.com/opencontainers/umoci/oci/cas/dir"
	"github.com/opencontainers/umoci/oci/casext"
	"github.com/opencontainers/umoci/oci/layer"

	"github.com/opencontainers/runtime-spec/specs-go"

	"github.com/containers/image/v5/copy"
	"github.com/containers/image/v5/signature"
	"github.com/containers/image/v5/transports/alltransports"
)

func copyImage(srcImage string, destImage string) error {
	srcRef, err := alltransports.ParseImageName(srcImage)
	if err != nil {
		return FetchError.Wrap(err, "invalid source name %s", srcImage)
	}
	destRef, err := alltransports.ParseImageName(destImage)
	if err != nil {
		return FetchError.Wrap(err, "invalid destination name %s", destImage)
	}

	policy := &signature.Policy{Default: []signature.PolicyRequirement{signature.NewPRInsecureAcceptAnything()}}
	policyContext, err := signature.NewPolicyContext(policy)
	if err != nil {
		return FetchError.Wrap(err, "cannot build signature policy")
	}
	defer policyContext.Destroy()

	_, err = copy.Image(context.Background(), policyContext, destRef, srcRef, &copy.Options{})
	if err != nil {
		return FetchError.Wrap(err, "cannot copy %s", srcImage)
	}
	return nil
}

func unpack(imagePath string, imageTag string, bundlePath string) error {
	unpackOptions := layer.UnpackOptions{
		KeepDirlinks: true,
	}

	engine, err := dir.Open(imagePath)
	if err != nil {
		return UnpackError.Wrap(err, "cannot open oci layout at %s", imagePath)
	}
	engineExt := casext.NewEngine(engine)
	defer engine.Close()
	err = umoci.Unpack(engineExt, imageTag, bundlePath, unpackOptions)
	if err != nil {
		return UnpackError.Wrap(err, "cannot unpack %s:%s", imagePath, imageTag)
	}
	return nil
}

// Fetch copies an image from its registry and unpacks it into a
// runtime bundle at bundlePath.
func Fetch(imageName string, imageTag string, bundlePath string) error {
	tmpDir, err := os.MkdirTemp("", "ketch")
	if err != nil {
		return FetchError.Wrap(err, "cannot create staging directory")
	}
	defer os.RemoveAll(tmpDir)
	err = copyImage("docker://"+imageName+":"+imageTag, "oci:"+tmpDir+":"+imageTag)
	if err != nil {
		return err
	}
	return unpack(tmpDir, imageTag, bundlePath)
}

// Extra writes an additional file into the bundle rootfs.
func Extra(bundlePath string, extraPath string, extraContent string, extraMode os.FileMode) error {
	p := filepath.Join(bundlePath, "rootfs", extraPath)
	if err := os.MkdirAll(filepath.Dir(p), 0777); err != nil {
		return ExtraError.Wrap(err, "cannot create directory for %s", extraPath)
	}
	err := os.WriteFile(p, []byte(extraContent), extraMode)
	if err != nil {
		return ExtraError.Wrap(err, "cannot write %s", extraPath)
	}
	return nil
}

// ReadMetadata reads the runtime config of an unpacked bundle; the
// process entry carries the image's default command and environment.
func ReadMetadata(bundlePath string) (*specs.Spec, error) {
	confB, err := os.ReadFile(filepath.Join(bundlePath, "config.json"))
	if err != nil {
		return nil, MetadataError.Wrap(err, "cannot read config %s", bundlePath)
	}
	var meta specs.Spec
	err = json.Unmarshal(confB, &meta)
	if err != nil {
		return nil, MetadataError.Wrap(err, "cannot unmarshal config %s", bundlePath)
	}
	return &meta, nil
}
