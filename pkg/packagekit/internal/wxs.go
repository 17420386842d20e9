package internal

import (
	_ "embed"
)

//go:embed assets/installer.wxs
var installWXS []byte

// InstallWXS returns the installer.wxs template.
func InstallWXS() []byte {
	return installWXS
}
