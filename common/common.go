package common

import "path/filepath"

var ConfPath string
var ImagePath string
var UnitPath string
var VolumePath string

// SetPaths anchors the state directories below the configuration
// directory. The dot prefix keeps them out of the cue loader's way.
func SetPaths(baseDir string) {
	ConfPath = filepath.Join(baseDir, "")
	ImagePath = filepath.Join(baseDir, ".images")
	UnitPath = filepath.Join(baseDir, ".units")
	VolumePath = filepath.Join(baseDir, ".volumes")
}
