// Package msibuild turns command line arguments and an INI config
// into a fully resolved set of installer parameters, and hands them to
// a Packager.
//
// Two modes are supported:
//
//	build   <path_to_binaries>
//	release <path_to_binaries> <output_path> <version>
//
// build reads artifacts/config.ini from the working directory and uses
// asset paths as written. release reads config.ini from the artifacts
// directory next to the executable, resolves asset paths against it,
// and takes the output directory and version from the command line.
package msibuild

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-kit/kit/log/level"
	"github.com/kardianos/osext"
	"github.com/kolide/msibuilder/pkg/config"
	"github.com/kolide/msibuilder/pkg/contexts/ctxlog"
	"github.com/kolide/msibuilder/pkg/packagekit"
	"github.com/kolide/msibuilder/pkg/packagekit/wix"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
)

const (
	artifactsDir   = "artifacts"
	configFileName = "config.ini"
)

// Packager builds an installer from fully resolved options.
type Packager interface {
	BuildInstaller(ctx context.Context, po *packagekit.PackageOptions) error
}

type Mode int

const (
	ModeSimple Mode = iota
	ModeRelease
)

func (m Mode) String() string {
	switch m {
	case ModeSimple:
		return "build"
	case ModeRelease:
		return "release"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

func (m Mode) arity() int {
	if m == ModeRelease {
		return 3
	}
	return 1
}

// Usage returns the usage line for the mode.
func (m Mode) Usage() string {
	if m == ModeRelease {
		return "msi-builder release path_to_binaries output_path version"
	}
	return "msi-builder build path_to_binaries"
}

// ExitCode is the process exit status for a run.
type ExitCode int

const (
	ExitOK       ExitCode = 0
	ExitFailure  ExitCode = 1 // returned alongside an error
	ExitUsage    ExitCode = 2 // bad arguments, nothing was done
	ExitNoConfig ExitCode = 3 // config file missing, nothing was done
)

type Driver struct {
	packager   Packager
	stdout     io.Writer
	baseDir    string
	configPath string
	stat       func(string) (os.FileInfo, error)
}

type Option func(*Driver)

// WithStdout sets where user facing messages are written.
func WithStdout(w io.Writer) Option {
	return func(d *Driver) {
		d.stdout = w
	}
}

// WithBaseDir sets the directory the release mode artifacts directory
// lives in. Defaults to the directory of the running executable.
func WithBaseDir(dir string) Option {
	return func(d *Driver) {
		d.baseDir = dir
	}
}

// WithConfigPath overrides the mode's config file location.
func WithConfigPath(path string) Option {
	return func(d *Driver) {
		d.configPath = path
	}
}

// WithStat replaces os.Stat. Useful for tests.
func WithStat(stat func(string) (os.FileInfo, error)) Option {
	return func(d *Driver) {
		d.stat = stat
	}
}

func New(packager Packager, opts ...Option) *Driver {
	d := &Driver{
		packager: packager,
		stdout:   os.Stdout,
		stat:     os.Stat,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Run validates args, loads the config, and builds the installer.
// Problems with the arguments or a missing config file are reported on
// stdout, and result in a non-zero ExitCode with a nil error. Anything
// after that is returned as an error.
func (d *Driver) Run(ctx context.Context, mode Mode, args []string) (ExitCode, error) {
	ctx, span := trace.StartSpan(ctx, "msibuild.Run")
	defer span.End()

	logger := ctxlog.FromContext(ctx)

	if len(args) != mode.arity() {
		fmt.Fprintf(d.stdout, "Wrong command line arguments. Usage %s\n", mode.Usage())
		return ExitUsage, nil
	}

	var loadOpts []config.Option
	if mode == ModeRelease {
		if err := config.ValidateVersion(args[2]); err != nil {
			fmt.Fprintf(d.stdout, "Invalid version %s. Usage %s\n", args[2], mode.Usage())
			return ExitUsage, nil
		}
		loadOpts = append(loadOpts, config.WithOptionalVersion())
	}

	if !d.isDir(args[0]) {
		fmt.Fprintf(d.stdout, "Can not find binaries directory %s. Usage %s\n", args[0], mode.Usage())
		return ExitUsage, nil
	}

	baseDir, err := d.resolveBaseDir(mode)
	if err != nil {
		return ExitFailure, err
	}

	configPath := d.resolveConfigPath(mode, baseDir)
	if !d.isFile(configPath) {
		fmt.Fprintf(d.stdout, "Can not find %s file\n", configPath)
		return ExitNoConfig, nil
	}

	level.Debug(logger).Log("msg", "loading config", "path", configPath, "mode", mode)

	cfg, err := config.Load(configPath, loadOpts...)
	if err != nil {
		return ExitFailure, errors.Wrap(err, "loading config")
	}

	po, err := packageOptions(mode, cfg, args, baseDir)
	if err != nil {
		return ExitFailure, err
	}

	level.Info(logger).Log(
		"msg", "building installer",
		"name", po.Name,
		"version", po.Version,
		"root", po.Root,
		"out", packagekit.OutputPath(po),
	)

	if err := d.packager.BuildInstaller(ctx, po); err != nil {
		return ExitFailure, errors.Wrap(err, "building installer")
	}

	return ExitOK, nil
}

func (d *Driver) resolveBaseDir(mode Mode) (string, error) {
	if mode != ModeRelease {
		return "", nil
	}

	if d.baseDir != "" {
		return d.baseDir, nil
	}

	dir, err := osext.ExecutableFolder()
	if err != nil {
		return "", errors.Wrap(err, "finding executable folder")
	}
	return dir, nil
}

func (d *Driver) resolveConfigPath(mode Mode, baseDir string) string {
	if d.configPath != "" {
		return d.configPath
	}

	if mode == ModeRelease {
		return filepath.Join(baseDir, artifactsDir, configFileName)
	}
	return filepath.Join(artifactsDir, configFileName)
}

func (d *Driver) isFile(path string) bool {
	fi, err := d.stat(path)
	return err == nil && !fi.IsDir()
}

func (d *Driver) isDir(path string) bool {
	fi, err := d.stat(path)
	return err == nil && fi.IsDir()
}

// packageOptions merges the command line and the config. Command line
// values win.
func packageOptions(mode Mode, cfg config.Config, args []string, baseDir string) (*packagekit.PackageOptions, error) {
	root, err := filepath.Abs(args[0])
	if err != nil {
		return nil, errors.Wrapf(err, "resolving %s", args[0])
	}

	version := cfg.Version
	outDir := ""
	asset := func(p string) string { return p }

	if mode == ModeRelease {
		outDir = args[1]
		version = args[2]

		artifacts := filepath.Join(baseDir, artifactsDir)
		asset = func(p string) string {
			if p == "" || filepath.IsAbs(p) {
				return p
			}
			return filepath.Join(artifacts, p)
		}
	}

	installDir := fmt.Sprintf(`%%ProgramFiles%%\%s\%s`, cfg.Company, cfg.AppName)
	programMenuDir := fmt.Sprintf(`%%ProgramMenu%%\%s\%s`, cfg.Company, cfg.AppName)

	return &packagekit.PackageOptions{
		Name:           cfg.FullAppName,
		AppFolderName:  cfg.AppName,
		InstallDir:     installDir,
		ProgramMenuDir: programMenuDir,
		Root:           root,
		Shortcuts:      shortcuts(cfg, installDir, programMenuDir),

		Guid:         cfg.Guid,
		Version:      version,
		Manufacturer: cfg.Manufacturer,
		Contact:      cfg.Contact,

		LicenceFile:     asset(cfg.LicenceFile),
		BannerImage:     asset(cfg.BannerImage),
		BackgroundImage: asset(cfg.BackgroundImage),
		ProductIcon:     asset(cfg.ProductIcon),

		OutFileName: cfg.OutFileName,
		OutDir:      outDir,

		PreserveTempFiles: cfg.PreserveTempFiles,
	}, nil
}

// shortcuts returns an uninstall shortcut in both the install dir and
// the start menu, plus optional start menu and desktop shortcuts to
// the application.
func shortcuts(cfg config.Config, installDir, programMenuDir string) []packagekit.Shortcut {
	appFolder := "[" + wix.ApplicationFolderId + "]"
	appTarget := appFolder + cfg.ExecutableName

	uninstall := func(dir string) packagekit.Shortcut {
		return packagekit.Shortcut{
			Name:      "Uninstall " + cfg.FullAppName,
			Directory: dir,
			Target:    "[System64Folder]msiexec.exe",
			Arguments: "/x [ProductCode]",
		}
	}

	return []packagekit.Shortcut{
		uninstall(installDir),
		uninstall(programMenuDir),
		{
			Name:               cfg.AppName,
			Directory:          programMenuDir,
			Target:             appTarget,
			WorkingDirectory:   appFolder,
			Feature:            "Add to Startup Menu",
			FeatureDescription: "Add application to Startup Menu",
		},
		{
			Name:               cfg.ShortcutName,
			Directory:          `%Desktop%`,
			Target:             appTarget,
			WorkingDirectory:   appFolder,
			Feature:            "Desktop icon",
			FeatureDescription: "Add icon to Desktop",
		},
	}
}
