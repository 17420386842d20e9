package packagekit

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/go-kit/kit/log/level"
	"github.com/google/uuid"
	"github.com/kolide/msibuilder/pkg/contexts/ctxlog"
	"github.com/kolide/msibuilder/pkg/packagekit/authenticode"
	"github.com/kolide/msibuilder/pkg/packagekit/internal"
	"github.com/kolide/msibuilder/pkg/packagekit/wix"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
)

// WixPackager builds MSI installers with the wix toolset.
type WixPackager struct {
	WixPath        string // path to wix installation
	DockerImage    string // run wix under wine in this docker image
	Arch           string // x86 or x64. Empty means the build arch
	SkipValidation bool   // skip light validation
	Cultures       string // light -cultures, eg: en-us;de-de. Empty means en-us

	// Sign the installer with signtool when SigntoolPath is set.
	SigntoolPath   string
	SigningSubject string // certificate subject name, optional
}

// BuildInstaller writes the installer described by po into
// po.OutDir. The installer is built (and signed) under a temporary
// name, and only replaces an existing file once it is complete.
func (wp *WixPackager) BuildInstaller(ctx context.Context, po *PackageOptions) error {
	outPath := OutputPath(po)
	outDir := filepath.Dir(outPath)

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return errors.Wrapf(err, "making output dir for %s", outPath)
	}

	// Keep the .msi extension, signtool picks its handler by it.
	base := strings.TrimSuffix(filepath.Base(outPath), filepath.Ext(outPath))
	fh, err := os.CreateTemp(outDir, "."+base+"-*.msi")
	if err != nil {
		return errors.Wrapf(err, "creating temp file for %s", outPath)
	}
	tmpPath := fh.Name()

	if err := wp.buildInto(ctx, fh, po); err != nil {
		os.Remove(tmpPath)
		return err
	}

	// CreateTemp makes the file 0600
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return errors.Wrapf(err, "setting mode on %s", tmpPath)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		os.Remove(tmpPath)
		return errors.Wrapf(err, "moving installer to %s", outPath)
	}

	level.Info(ctxlog.FromContext(ctx)).Log("msg", "built installer", "path", outPath)
	return nil
}

// buildInto packages into fh, closes it, and signs it when configured.
func (wp *WixPackager) buildInto(ctx context.Context, fh *os.File, po *PackageOptions) error {
	if err := PackageWixMSI(ctx, fh, po, wp.wixOpts()...); err != nil {
		fh.Close()
		return err
	}

	if err := fh.Close(); err != nil {
		return errors.Wrapf(err, "closing %s", fh.Name())
	}

	if wp.SigntoolPath != "" {
		if err := authenticode.Sign(ctx, fh.Name(), wp.signOpts()...); err != nil {
			return errors.Wrapf(err, "signing %s", OutputPath(po))
		}
	}

	return nil
}

func (wp *WixPackager) signOpts() []authenticode.SigntoolOpt {
	opts := []authenticode.SigntoolOpt{authenticode.WithSigntoolPath(wp.SigntoolPath)}
	if wp.SigningSubject != "" {
		opts = append(opts, authenticode.WithSubjectName(wp.SigningSubject))
	}
	if wp.SkipValidation {
		opts = append(opts, authenticode.SkipValidation())
	}
	return opts
}

func (wp *WixPackager) wixOpts() []wix.WixOpt {
	var opts []wix.WixOpt

	if wp.WixPath != "" {
		opts = append(opts, wix.WithWix(wp.WixPath))
	}
	if wp.DockerImage != "" {
		opts = append(opts, wix.WithDocker(wp.DockerImage))
	}
	if wp.SkipValidation {
		opts = append(opts, wix.SkipValidation())
	}
	if wp.Cultures != "" {
		opts = append(opts, wix.WithCultures(wp.Cultures))
	}

	switch wp.Arch {
	case "x86", "386":
		opts = append(opts, wix.As32bit())
	case "x64", "amd64":
		opts = append(opts, wix.As64bit())
	}

	return opts
}

// OutputPath returns where the installer for po is written.
func OutputPath(po *PackageOptions) string {
	name := po.OutFileName
	if !strings.EqualFold(filepath.Ext(name), ".msi") {
		name += ".msi"
	}
	return filepath.Join(po.OutDir, name)
}

func PackageWixMSI(ctx context.Context, w io.Writer, po *PackageOptions, wixOpts ...wix.WixOpt) error {
	ctx, span := trace.StartSpan(ctx, "packagekit.PackageWixMSI")
	defer span.End()

	logger := ctxlog.FromContext(ctx)

	if err := isDirectory(po.Root); err != nil {
		return err
	}

	version, err := formatVersion(po.Version)
	if err != nil {
		return errors.Wrap(err, "formatting version")
	}

	guid, err := uuid.Parse(po.Guid)
	if err != nil {
		return errors.Wrapf(err, "parsing guid %s", po.Guid)
	}

	// The installer uses the WixUI_Advanced dialog set
	wixOpts = append([]wix.WixOpt{wix.WithExtension("WixUIExtension")}, wixOpts...)

	if po.PreserveTempFiles {
		wixOpts = append(wixOpts, wix.SkipCleanup())
	}

	wixTool, err := wix.New(po.Root, wixOpts...)
	if err != nil {
		return errors.Wrap(err, "making wixTool")
	}
	defer wixTool.Cleanup()

	if po.PreserveTempFiles {
		level.Info(logger).Log("msg", "preserving wix build dir", "builddir", wixTool.BuildDir())
	} else {
		level.Debug(logger).Log("builddir", wixTool.BuildDir())
	}

	// We need to use variables to stub various parts of the wix
	// xml. While we could use wix's internal variable system, it's a
	// little more debugable to do it with go's. This way, we can
	// inspect the intermediate xml file.
	templateData, err := newWixTemplateData(po, version, guid, wixTool.Arch())
	if err != nil {
		return err
	}

	if err := stageAssets(ctx, wixTool, templateData); err != nil {
		return err
	}

	installWXS, err := renderWixTemplate(templateData)
	if err != nil {
		return err
	}

	if err := wixTool.InstallWXS(installWXS); err != nil {
		return errors.Wrap(err, "installing WixTemplate")
	}

	if err := wixTool.Package(ctx, w); err != nil {
		return errors.Wrap(err, "packaging msi")
	}

	return nil
}

type wixTemplateData struct {
	Opts        *PackageOptions
	Version     string
	UpgradeCode string
	ProductCode string
	PackageCode string

	// Asset paths, as seen by the wix tools.
	LicenceFile     string
	BannerImage     string
	BackgroundImage string
	ProductIcon     string

	// Pre-rendered xml fragments
	Directories        string
	ShortcutComponents string
	MainComponentRefs  string
	Features           string
}

func newWixTemplateData(po *PackageOptions, version string, guid uuid.UUID, msArch string) (*wixTemplateData, error) {
	upgradeCode := strings.ToUpper(guid.String())
	extraGuidIdentifiers := []string{
		msArch,
		version,
	}

	td := &wixTemplateData{
		Opts:            po,
		Version:         version,
		UpgradeCode:     upgradeCode,
		ProductCode:     generateMicrosoftProductCode(upgradeCode, extraGuidIdentifiers...),
		PackageCode:     generateMicrosoftProductCode(upgradeCode, extraGuidIdentifiers...),
		LicenceFile:     po.LicenceFile,
		BannerImage:     po.BannerImage,
		BackgroundImage: po.BackgroundImage,
		ProductIcon:     po.ProductIcon,
	}

	layout := wix.NewLayout(msArch)
	if _, err := layout.Add(po.InstallDir, wix.ApplicationFolderId); err != nil {
		return nil, errors.Wrap(err, "adding install dir")
	}
	if po.ProgramMenuDir != "" {
		if _, err := layout.Add(po.ProgramMenuDir, ""); err != nil {
			return nil, errors.Wrap(err, "adding program menu dir")
		}
	}

	shortcuts := wix.NewShortcuts(layout, fmt.Sprintf(`Software\%s\%s`, po.Manufacturer, po.AppFolderName))
	for _, sc := range po.Shortcuts {
		var opts []wix.ShortcutOpt
		if sc.Feature != "" {
			opts = append(opts, wix.InFeature(sc.Feature, sc.FeatureDescription))
		}
		if err := shortcuts.Add(sc.Directory, sc.Name, sc.Target, sc.Arguments, sc.WorkingDirectory, opts...); err != nil {
			return nil, errors.Wrap(err, "adding shortcut")
		}
	}

	var err error
	if td.Directories, err = renderXml(layout.Xml); err != nil {
		return nil, errors.Wrap(err, "rendering directories")
	}
	if td.ShortcutComponents, err = renderXml(shortcuts.ComponentsXml); err != nil {
		return nil, errors.Wrap(err, "rendering shortcuts")
	}
	if td.MainComponentRefs, err = renderXml(shortcuts.MainRefsXml); err != nil {
		return nil, errors.Wrap(err, "rendering component refs")
	}
	if td.Features, err = renderXml(shortcuts.FeaturesXml); err != nil {
		return nil, errors.Wrap(err, "rendering features")
	}

	return td, nil
}

func renderXml(fn func(io.Writer) error) (string, error) {
	var buf bytes.Buffer
	if err := fn(&buf); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

func renderWixTemplate(td *wixTemplateData) ([]byte, error) {
	wixTemplate, err := template.New("WixTemplate").Funcs(template.FuncMap{
		"attr": xmlAttr,
	}).Parse(string(internal.InstallWXS()))
	if err != nil {
		return nil, errors.Wrap(err, "not able to parse Install.wxs template")
	}

	installWXS := new(bytes.Buffer)
	if err := wixTemplate.ExecuteTemplate(installWXS, "WixTemplate", td); err != nil {
		return nil, errors.Wrap(err, "executing WixTemplate")
	}

	return installWXS.Bytes(), nil
}

func xmlAttr(s string) (string, error) {
	var buf bytes.Buffer
	if err := xml.EscapeText(&buf, []byte(s)); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// generateMicrosoftProductCode is a stable guid that is used to
// identify the product / sub product / package / version, and
// whatnot. We need to either store them, or generate them in a
// predictable fasion based on a set of inputs. See
// https://docs.microsoft.com/en-us/windows/desktop/Msi/productcode
func generateMicrosoftProductCode(ident1 string, identN ...string) string {
	h := md5.New()
	io.WriteString(h, ident1)
	for _, s := range identN {
		io.WriteString(h, s)
	}

	hash := h.Sum(nil)

	return fmt.Sprintf("%X-%X-%X-%X-%X", hash[0:4], hash[4:6], hash[6:8], hash[8:10], hash[10:16])
}
