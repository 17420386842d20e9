package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func fullKeys() map[string]string {
	return map[string]string{
		KeyCompany:           "Acme",
		KeyFullAppName:       "Acme Widget",
		KeyAppName:           "Widget",
		KeyShortcutName:      "Widget Shortcut",
		KeyExecutableName:    "widget.exe",
		KeyManufacturer:      "Acme Inc.",
		KeyVersion:           "1.2.3",
		KeyContact:           "support@acme.example",
		KeyBackgroundImage:   "background.bmp",
		KeyLicenceFile:       `assets\licence.rtf`,
		KeyGuid:              "123e4567-e89b-12d3-a456-426614174000",
		KeyOutFileName:       "WidgetSetup",
		KeyBannerImage:       "banner.bmp",
		KeyPreserveTempFiles: "true",
		KeyProductIcon:       "widget.ico",
	}
}

// writeIni writes keys into a [config] section, in a stable order.
func writeIni(t *testing.T, keys map[string]string) string {
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("[config]\n")
	for _, k := range names {
		fmt.Fprintf(&sb, "%s=%s\n", k, keys[k])
	}

	path := filepath.Join(t.TempDir(), "config.ini")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0644))
	return path
}

func TestLoadRoundTrip(t *testing.T) {
	t.Parallel()

	keys := fullKeys()
	cfg, err := Load(writeIni(t, keys))
	require.NoError(t, err)

	require.Equal(t, Config{
		Company:           keys[KeyCompany],
		FullAppName:       keys[KeyFullAppName],
		AppName:           keys[KeyAppName],
		ShortcutName:      keys[KeyShortcutName],
		ExecutableName:    keys[KeyExecutableName],
		Manufacturer:      keys[KeyManufacturer],
		Version:           keys[KeyVersion],
		Contact:           keys[KeyContact],
		Guid:              keys[KeyGuid],
		BackgroundImage:   keys[KeyBackgroundImage],
		LicenceFile:       keys[KeyLicenceFile],
		BannerImage:       keys[KeyBannerImage],
		ProductIcon:       keys[KeyProductIcon],
		OutFileName:       keys[KeyOutFileName],
		PreserveTempFiles: true,
	}, cfg)
}

func TestLoadVerbatimValues(t *testing.T) {
	t.Parallel()

	keys := fullKeys()
	keys[KeyFullAppName] = "Acme C# Studio"
	keys[KeyAppName] = "Widget; Pro"
	keys[KeyContact] = "https://acme.example/#support"
	keys[KeyManufacturer] = "Acme Inc. ; Tools #1"
	keys[KeyLicenceFile] = `assets\licence\`

	cfg, err := Load(writeIni(t, keys))
	require.NoError(t, err)

	require.Equal(t, "Acme C# Studio", cfg.FullAppName)
	require.Equal(t, "Widget; Pro", cfg.AppName)
	require.Equal(t, "https://acme.example/#support", cfg.Contact)
	require.Equal(t, `assets\licence\`, cfg.LicenceFile)

	// Manufacturer follows LicenceFile in the file. The trailing
	// backslash doesn't swallow it.
	require.Equal(t, "Acme Inc. ; Tools #1", cfg.Manufacturer)
}

func TestLoadExampleConfig(t *testing.T) {
	t.Parallel()

	for _, file := range []string{"example_config.ini", "utf16.ini"} {
		file := file
		t.Run(file, func(t *testing.T) {
			t.Parallel()

			cfg, err := Load(filepath.Join("testdata", file))
			require.NoError(t, err)

			require.Equal(t, "Acme", cfg.Company)
			require.Equal(t, "Acme Widget", cfg.FullAppName)
			require.Equal(t, "widget.exe", cfg.ExecutableName)
			require.Equal(t, "1.2.3", cfg.Version)
			require.Equal(t, "123e4567-e89b-12d3-a456-426614174000", cfg.Guid)
			require.Equal(t, "background.bmp", cfg.BackgroundImage)
			require.Equal(t, "widget.ico", cfg.ProductIcon)
			require.False(t, cfg.PreserveTempFiles)
		})
	}
}

func TestLoadMissingRequiredKey(t *testing.T) {
	t.Parallel()

	required := []string{
		KeyCompany,
		KeyFullAppName,
		KeyAppName,
		KeyShortcutName,
		KeyExecutableName,
		KeyManufacturer,
		KeyVersion,
		KeyContact,
		KeyBackgroundImage,
		KeyLicenceFile,
		KeyGuid,
		KeyOutFileName,
		KeyBannerImage,
	}

	for _, key := range required {
		key := key
		t.Run(key, func(t *testing.T) {
			t.Parallel()

			keys := fullKeys()
			delete(keys, key)

			_, err := Load(writeIni(t, keys))
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrMalformed))
			require.False(t, errors.Is(err, ErrNotFound))
			require.Contains(t, err.Error(), key)
			require.Contains(t, err.Error(), ExampleConfigName)
		})
	}
}

func TestLoadEmptyRequiredKey(t *testing.T) {
	t.Parallel()

	keys := fullKeys()
	keys[KeyCompany] = ""

	_, err := Load(writeIni(t, keys))
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrMalformed))
}

func TestLoadOptionalKeys(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join("testdata", "minimal.ini"), WithOptionalVersion())
	require.NoError(t, err)
	require.Empty(t, cfg.Version)
	require.Empty(t, cfg.ProductIcon)
	require.False(t, cfg.PreserveTempFiles)

	// Without the option, Version is required.
	_, err = Load(filepath.Join("testdata", "minimal.ini"))
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrMalformed))
	require.Contains(t, err.Error(), KeyVersion)
}

func TestLoadOptionalVersionStillValidated(t *testing.T) {
	t.Parallel()

	keys := fullKeys()
	keys[KeyVersion] = "not-a-version"

	_, err := Load(writeIni(t, keys), WithOptionalVersion())
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrMalformed))
}

func TestLoadNotFound(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nope.ini")
	_, err := Load(path)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrNotFound))
	require.False(t, errors.Is(err, ErrMalformed))

	var cfgErr *Error
	require.True(t, errors.As(err, &cfgErr))
	require.Equal(t, path, cfgErr.Path)
	require.True(t, os.IsNotExist(errors.Cause(cfgErr.Err)))
}

func TestLoadMissingSection(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join("testdata", "missing_section.ini"))
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrMalformed))
	require.Contains(t, err.Error(), "[config]")
}

func TestLoadInvalidValues(t *testing.T) {
	t.Parallel()

	var tests = []struct {
		name  string
		key   string
		value string
	}{
		{name: "guid", key: KeyGuid, value: "not-a-guid"},
		{name: "absolute exe", key: KeyExecutableName, value: `C:\widget.exe`},
		{name: "rooted exe", key: KeyExecutableName, value: "/widget.exe"},
		{name: "parent exe", key: KeyExecutableName, value: `..\widget.exe`},
		{name: "exe in subdirectory", key: KeyExecutableName, value: `bin\widget.exe`},
		{name: "version", key: KeyVersion, value: "one.two"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			keys := fullKeys()
			keys[tt.key] = tt.value

			_, err := Load(writeIni(t, keys))
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrMalformed))
			require.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestParseBool(t *testing.T) {
	t.Parallel()

	var tests = []struct {
		in  string
		out bool
	}{
		{in: "True", out: true},
		{in: "true", out: true},
		{in: "TRUE", out: true},
		{in: " true ", out: true},
		{in: "", out: false},
		{in: "false", out: false},
		{in: "False", out: false},
		{in: "yes", out: false},
		{in: "1", out: false},
		{in: "truee", out: false},
	}

	for _, tt := range tests {
		require.Equal(t, tt.out, ParseBool(tt.in), "input %q", tt.in)
	}
}

func TestLoadPreserveTempFiles(t *testing.T) {
	t.Parallel()

	keys := fullKeys()
	keys[KeyPreserveTempFiles] = "True"
	cfg, err := Load(writeIni(t, keys))
	require.NoError(t, err)
	require.True(t, cfg.PreserveTempFiles)

	keys[KeyPreserveTempFiles] = "maybe"
	cfg, err = Load(writeIni(t, keys))
	require.NoError(t, err)
	require.False(t, cfg.PreserveTempFiles)

	delete(keys, KeyPreserveTempFiles)
	cfg, err = Load(writeIni(t, keys))
	require.NoError(t, err)
	require.False(t, cfg.PreserveTempFiles)
}

func TestValidateFileName(t *testing.T) {
	t.Parallel()

	var tests = []struct {
		in    string
		valid bool
	}{
		{in: "widget.exe", valid: true},
		{in: "widget v2.exe", valid: true},
		{in: `bin\widget.exe`, valid: false},
		{in: "bin/widget.exe", valid: false},
		{in: "/widget.exe", valid: false},
		{in: "..", valid: false},
		{in: "", valid: false},
		{in: `\widget.exe`, valid: false},
		{in: `C:\widget.exe`, valid: false},
		{in: `bin\..\widget.exe`, valid: false},
		{in: "wid?get.exe", valid: false},
		{in: `bin\`, valid: false},
	}

	for _, tt := range tests {
		err := ValidateFileName(tt.in)
		if tt.valid {
			require.NoError(t, err, "input %q", tt.in)
		} else {
			require.Error(t, err, "input %q", tt.in)
		}
	}
}
