package packagekit

import (
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// TestGenerateMicrosoftProductCode tests that our guid generation is
// stable.
func TestGenerateMicrosoftProductCode(t *testing.T) {
	t.Parallel()

	var tests = []struct {
		ident1 string
		identN []string
		out    string
	}{
		{
			ident1: "123E4567-E89B-12D3-A456-426614174000",
			out:    "1323532C-BE1C-AF83-B44B-AD21DA06B2F2",
		},
		{
			ident1: "123E4567-E89B-12D3-A456-426614174000",
			identN: []string{},
			out:    "1323532C-BE1C-AF83-B44B-AD21DA06B2F2",
		},
		{
			ident1: "123E4567-E89B-12D3-A456-426614174000",
			identN: []string{"x64", "1.2.3.0"},
			out:    "8F936ACE-34EC-EB7D-F6D2-1E9890149A36",
		},
		{
			ident1: "123E4567-E89B-12D3-A456-426614174000",
			identN: []string{"x86", "1.2.3.0"},
			out:    "56531D77-9165-A6CB-38DD-B76B39BBC220",
		},
		{
			ident1: "123E4567-E89B-12D3-A456-426614174000",
			identN: []string{"x64", "2.0.0.0"},
			out:    "5B90B734-5AAD-1DD0-06A9-3CDC3AEDF11E",
		},
	}

	for _, tt := range tests {
		guid := generateMicrosoftProductCode(tt.ident1, tt.identN...)
		require.Equal(t, len("XXXXXXXX-XXXX-XXXX-XXXX-XXXXXXXXXXXX"), len(guid))
		require.Equal(t, tt.out, guid)
	}
}

func TestFormatVersion(t *testing.T) {
	t.Parallel()

	var tests = []struct {
		in  string
		out string
		err bool
	}{
		{in: "1.2.3", out: "1.2.3.0"},
		{in: "v1.2.3", out: "1.2.3.0"},
		{in: "2.0.0", out: "2.0.0.0"},
		{in: "1.2", out: "1.2.0.0"},
		{in: "0.9.1-12", out: "0.9.1.12"},
		{in: "0.9.1-12-gabcdef", out: "0.9.1.0"},
		{in: "0.9.1-beta", out: "0.9.1.0"},
		{in: "256.0.0", err: true},
		{in: "1.256.0", err: true},
		{in: "1.2.65536", err: true},
		{in: "not-a-version", err: true},
		{in: "", err: true},
	}

	for _, tt := range tests {
		out, err := formatVersion(tt.in)
		if tt.err {
			require.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		require.Equal(t, tt.out, out, "input %q", tt.in)
	}
}

func TestOutputPath(t *testing.T) {
	t.Parallel()

	var tests = []struct {
		name string
		dir  string
		out  string
	}{
		{name: "WidgetSetup", dir: "out", out: filepath.Join("out", "WidgetSetup.msi")},
		{name: "WidgetSetup.msi", dir: "out", out: filepath.Join("out", "WidgetSetup.msi")},
		{name: "WidgetSetup.MSI", dir: "", out: "WidgetSetup.MSI"},
		{name: "Widget.1.2", dir: "", out: "Widget.1.2.msi"},
	}

	for _, tt := range tests {
		require.Equal(t, tt.out, OutputPath(&PackageOptions{OutFileName: tt.name, OutDir: tt.dir}))
	}
}

func testPackageOptions(root string) *PackageOptions {
	return &PackageOptions{
		Name:           "Acme & Sons Widget",
		AppFolderName:  "Widget",
		InstallDir:     `%ProgramFiles%\Acme\Widget`,
		ProgramMenuDir: `%ProgramMenu%\Acme\Widget`,
		Root:           root,
		Guid:           "123e4567-e89b-12d3-a456-426614174000",
		Version:        "1.2.3",
		Manufacturer:   "Acme Inc.",
		Contact:        "support@acme.example",
		LicenceFile:    "licence.rtf",
		BannerImage:    "banner.bmp",
		OutFileName:    "WidgetSetup",
		Shortcuts: []Shortcut{
			{
				Name:      "Uninstall Acme Widget",
				Directory: `%ProgramFiles%\Acme\Widget`,
				Target:    "[System64Folder]msiexec.exe",
				Arguments: "/x [ProductCode]",
			},
			{
				Name:      "Uninstall Acme Widget",
				Directory: `%ProgramMenu%\Acme\Widget`,
				Target:    "[System64Folder]msiexec.exe",
				Arguments: "/x [ProductCode]",
			},
			{
				Name:               "Widget",
				Directory:          `%Desktop%`,
				Target:             "[APPLICATIONFOLDER]widget.exe",
				WorkingDirectory:   "[APPLICATIONFOLDER]",
				Feature:            "Desktop icon",
				FeatureDescription: "Add icon to Desktop",
			},
		},
	}
}

func TestRenderWixTemplate(t *testing.T) {
	t.Parallel()

	po := testPackageOptions(t.TempDir())
	guid := uuid.MustParse(po.Guid)

	td, err := newWixTemplateData(po, "1.2.3.0", guid, "x64")
	require.NoError(t, err)

	require.Equal(t, "123E4567-E89B-12D3-A456-426614174000", td.UpgradeCode)
	require.Equal(t, generateMicrosoftProductCode(td.UpgradeCode, "x64", "1.2.3.0"), td.ProductCode)

	rendered, err := renderWixTemplate(td)
	require.NoError(t, err)

	// Must be well formed xml
	dec := xml.NewDecoder(bytes.NewReader(rendered))
	for {
		_, err := dec.Token()
		if err == io.EOF {
			break
		}
		require.NoError(t, err, string(rendered))
	}

	out := string(rendered)
	require.Contains(t, out, `Name="Acme &amp; Sons Widget"`)
	require.Contains(t, out, `Version="1.2.3.0"`)
	require.Contains(t, out, `UpgradeCode="123E4567-E89B-12D3-A456-426614174000"`)
	require.Contains(t, out, `<Directory Id="ProgramFiles64Folder">`)
	require.Contains(t, out, `<Directory Id="APPLICATIONFOLDER" Name="Widget">`)
	require.Contains(t, out, `<Property Id="ApplicationFolderName" Value="Widget" />`)
	require.Contains(t, out, `<Property Id="ARPCONTACT" Value="support@acme.example" />`)
	require.Contains(t, out, `<WixVariable Id="WixUILicenseRtf" Value="licence.rtf" />`)
	require.Contains(t, out, `Target="[System64Folder]msiexec.exe"`)
	require.Contains(t, out, `Arguments="/x [ProductCode]"`)
	require.Contains(t, out, `WorkingDirectory="APPLICATIONFOLDER"`)
	require.Contains(t, out, `Title="Desktop icon"`)
	require.Equal(t, 2, strings.Count(out, `Name="Uninstall Acme Widget"`))
	require.NotContains(t, out, "ARPPRODUCTICON")
}

func TestRenderWixTemplate32bit(t *testing.T) {
	t.Parallel()

	po := testPackageOptions(t.TempDir())
	po.ProductIcon = "widget.ico"

	td, err := newWixTemplateData(po, "1.2.3.0", uuid.MustParse(po.Guid), "x86")
	require.NoError(t, err)

	rendered, err := renderWixTemplate(td)
	require.NoError(t, err)

	require.Contains(t, string(rendered), `<Directory Id="ProgramFilesFolder">`)
	require.Contains(t, string(rendered), `<Property Id="ARPPRODUCTICON" Value="ProductIcon" />`)
}

func TestNewWixTemplateDataBadDirectory(t *testing.T) {
	t.Parallel()

	po := testPackageOptions(t.TempDir())
	po.InstallDir = `C:\Acme\Widget`

	_, err := newWixTemplateData(po, "1.2.3.0", uuid.MustParse(po.Guid), "x64")
	require.Error(t, err)
}

func TestBuildInstallerMissingRoot(t *testing.T) {
	t.Parallel()

	outDir := t.TempDir()
	po := testPackageOptions(filepath.Join(outDir, "does-not-exist"))
	po.OutDir = outDir

	wp := &WixPackager{}
	err := wp.BuildInstaller(context.Background(), po)
	require.Error(t, err)

	// No partial installer is left behind
	_, err = os.Stat(OutputPath(po))
	require.True(t, os.IsNotExist(err))
}

func TestBuildInstallerKeepsPreviousInstaller(t *testing.T) {
	t.Parallel()

	outDir := t.TempDir()
	po := testPackageOptions(filepath.Join(outDir, "does-not-exist"))
	po.OutDir = outDir

	previous := []byte("previous good installer")
	require.NoError(t, os.WriteFile(OutputPath(po), previous, 0644))

	wp := &WixPackager{}
	require.Error(t, wp.BuildInstaller(context.Background(), po))

	contents, err := os.ReadFile(OutputPath(po))
	require.NoError(t, err)
	require.Equal(t, previous, contents)

	// and no temp file is left behind
	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "WidgetSetup.msi", entries[0].Name())
}

func TestPackageWixMSIBadVersion(t *testing.T) {
	t.Parallel()

	po := testPackageOptions(t.TempDir())
	po.Version = "latest"

	var buf bytes.Buffer
	err := PackageWixMSI(context.Background(), &buf, po)
	require.Error(t, err)
	require.Zero(t, buf.Len())
}

func TestWixPackagerOpts(t *testing.T) {
	t.Parallel()

	var tests = []struct {
		name     string
		packager WixPackager
		wixOpts  int
		signOpts int
	}{
		{name: "empty", packager: WixPackager{}, wixOpts: 0, signOpts: 1},
		{name: "arch", packager: WixPackager{Arch: "x86"}, wixOpts: 1, signOpts: 1},
		{name: "unknown arch", packager: WixPackager{Arch: "sparc"}, wixOpts: 0, signOpts: 1},
		{
			name: "everything",
			packager: WixPackager{
				WixPath:        `C:\wix311`,
				DockerImage:    "wine",
				Arch:           "amd64",
				SkipValidation: true,
				Cultures:       "de-de",
				SigntoolPath:   "signtool.exe",
				SigningSubject: "Acme Inc.",
			},
			wixOpts:  5,
			signOpts: 3,
		},
	}

	for _, tt := range tests {
		require.Len(t, tt.packager.wixOpts(), tt.wixOpts, tt.name)
		require.Len(t, tt.packager.signOpts(), tt.signOpts, tt.name)
	}
}
