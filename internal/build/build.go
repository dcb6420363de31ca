// Package build carries values stamped in at link time.
package build

import (
	"runtime"
	"strings"
)

var (
	Version = "dev"
	AppName = "sysgenid"
	Slug    = ""
)

func init() {
	if Slug == "" {
		Slug = strings.ToLower(AppName)
	}
}

// GoVersion returns the Go toolchain the binary was built with.
func GoVersion() string {
	return runtime.Version()
}
