package packagekit

import (
	"fmt"
	"strconv"

	"github.com/Masterminds/semver"
	"github.com/pkg/errors"
)

// formatVersion formats the version for windows installer. MSI
// versions are W.X.Y.Z, with the first three fields limited to
// 255.255.65535, so we convert our semver style to that. A numeric
// prerelease (eg: the commit count in 1.2.3-4) becomes the fourth
// field.
func formatVersion(rawVersion string) (string, error) {
	v, err := semver.NewVersion(rawVersion)
	if err != nil {
		return "", errors.Wrapf(err, "version %s did not match expected format", rawVersion)
	}

	if v.Major() > 255 || v.Minor() > 255 || v.Patch() > 65535 {
		return "", errors.Errorf("version %s out of range for windows installer", rawVersion)
	}

	commits := int64(0)
	if pre := v.Prerelease(); pre != "" {
		if n, err := strconv.ParseInt(pre, 10, 64); err == nil && n >= 0 && n <= 65535 {
			commits = n
		}
	}

	return fmt.Sprintf("%d.%d.%d.%d", v.Major(), v.Minor(), v.Patch(), commits), nil
}
