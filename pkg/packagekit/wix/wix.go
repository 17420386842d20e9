package wix

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/go-kit/kit/log/level"
	"github.com/kolide/msibuilder/pkg/contexts/ctxlog"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
)

type wixTool struct {
	wixPath        string   // Where is wix installed
	packageRoot    string   // What's the root of the packaging files?
	buildDir       string   // The wix tools want to work in a build dir.
	msArch         string   // What's the microsoft archtecture name?
	dockerImage    string   // If in docker, what image?
	skipValidation bool     // Skip light validation. Seems to be needed for running in 32bit wine environments.
	skipCleanup    bool     // Leave the build dir behind, for debugging
	extensions     []string // wix extensions passed to candle and light
	cultures       string   // light -cultures
	cleanDirs      []string // directories to rm on cleanup

	execCC func(context.Context, string, ...string) *exec.Cmd // Allows test overrides
}

type WixOpt func(*wixTool)

func As64bit() WixOpt {
	return func(wo *wixTool) {
		wo.msArch = "x64"
	}
}

func As32bit() WixOpt {
	return func(wo *wixTool) {
		wo.msArch = "x86"
	}
}

// If you're running this in a virtual win environment, you probably
// need to skip validation. LGHT0216 is a common error.
func SkipValidation() WixOpt {
	return func(wo *wixTool) {
		wo.skipValidation = true
	}
}

// SkipCleanup leaves the build directory in place after Cleanup.
func SkipCleanup() WixOpt {
	return func(wo *wixTool) {
		wo.skipCleanup = true
	}
}

func WithWix(path string) WixOpt {
	return func(wo *wixTool) {
		wo.wixPath = path
	}
}

func WithBuildDir(path string) WixOpt {
	return func(wo *wixTool) {
		wo.buildDir = path
	}
}

func WithDocker(image string) WixOpt {
	return func(wo *wixTool) {
		wo.dockerImage = image
	}
}

// WithExtension adds a wix extension (eg: WixUIExtension) to the
// candle and light invocations.
func WithExtension(name string) WixOpt {
	return func(wo *wixTool) {
		wo.extensions = append(wo.extensions, name)
	}
}

func WithCultures(cultures string) WixOpt {
	return func(wo *wixTool) {
		wo.cultures = cultures
	}
}

// New takes a packageRoot of files, and returns a struct suitable for
// builing packages with. The main wxs file is supplied later, through
// InstallWXS, so it can reference files staged into the build dir.
func New(packageRoot string, wixOpts ...WixOpt) (*wixTool, error) {
	wo := &wixTool{
		wixPath:     `C:\wix311`,
		packageRoot: packageRoot,
		cultures:    "en-us",

		execCC: exec.CommandContext,
	}

	for _, opt := range wixOpts {
		opt(wo)
	}

	var err error
	if wo.buildDir == "" {
		wo.buildDir, err = ioutil.TempDir("", "wix-build-dir")
		if err != nil {
			return nil, errors.Wrap(err, "making temp wix-build-dir")
		}
		wo.cleanDirs = append(wo.cleanDirs, wo.buildDir)
	}

	if wo.msArch == "" {
		msArch, err := ArchFor(runtime.GOARCH)
		if err != nil {
			wo.Cleanup()
			return nil, err
		}
		wo.msArch = msArch
	}

	return wo, nil
}

// InstallWXS writes the main wxs file into the build dir.
func (wo *wixTool) InstallWXS(mainWxsContent []byte) error {
	mainWxsPath := filepath.Join(wo.buildDir, "Installer.wxs")

	if err := ioutil.WriteFile(
		mainWxsPath,
		mainWxsContent,
		0644); err != nil {
		return errors.Wrapf(err, "writing %s", mainWxsPath)
	}

	return nil
}

// ArchFor converts a GOARCH into the microsoft name for it.
func ArchFor(goarch string) (string, error) {
	switch goarch {
	case "386":
		return "x86", nil
	case "amd64":
		return "x64", nil
	case "arm64":
		return "arm64", nil
	default:
		return "", errors.Errorf("unknown arch for windows %s", goarch)
	}
}

// Arch returns the microsoft architecture being built for.
func (wo *wixTool) Arch() string {
	return wo.msArch
}

// BuildDir returns the directory the wix tools run in.
func (wo *wixTool) BuildDir() string {
	return wo.buildDir
}

// Cleanup removes temp directories. Meant to be called in a defer.
func (wo *wixTool) Cleanup() {
	if wo.skipCleanup {
		return
	}
	for _, d := range wo.cleanDirs {
		os.RemoveAll(d)
	}
}

// Stage copies a file into the build directory as name, and returns
// the new path. An empty name keeps the base name of src. Assets
// referenced from the wxs need to be visible to the wix tools, which
// is not a given when they run in docker.
func (wo *wixTool) Stage(src, name string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", errors.Wrapf(err, "opening asset %s", src)
	}
	defer in.Close()

	if name == "" {
		name = filepath.Base(src)
	}
	return wo.StageReader(name, in)
}

// StageReader is Stage for content that isn't on disk yet. name is
// the file name inside the assets directory.
func (wo *wixTool) StageReader(name string, r io.Reader) (string, error) {
	assetDir := filepath.Join(wo.buildDir, "assets")
	if err := os.MkdirAll(assetDir, 0755); err != nil {
		return "", errors.Wrap(err, "making asset dir")
	}

	dst := filepath.Join(assetDir, filepath.Base(name))
	out, err := os.Create(dst)
	if err != nil {
		return "", errors.Wrapf(err, "creating %s", dst)
	}
	defer out.Close()

	if _, err := io.Copy(out, r); err != nil {
		return "", errors.Wrapf(err, "copying asset %s", name)
	}

	return dst, nil
}

// Package will run through the wix steps to produce a resulting
// package. This package will be written into the provided io.Writer,
// facilitating export to a file, buffer, or other storage backends.
func (wo *wixTool) Package(ctx context.Context, pkgOutput io.Writer) error {
	ctx, span := trace.StartSpan(ctx, "wix.Package")
	defer span.End()

	if err := wo.heat(ctx); err != nil {
		return errors.Wrap(err, "running heat")
	}

	if err := wo.candle(ctx); err != nil {
		return errors.Wrap(err, "running candle")
	}

	if err := wo.light(ctx); err != nil {
		return errors.Wrap(err, "running light")
	}

	msiFH, err := os.Open(filepath.Join(wo.buildDir, "out.msi"))
	if err != nil {
		return errors.Wrap(err, "opening msi output file")
	}
	defer msiFH.Close()

	if _, err := io.Copy(pkgOutput, msiFH); err != nil {
		return errors.Wrap(err, "copying output")
	}

	return nil
}

// heat invokes wix's heat command. This examines a directory and
// "harvests" the files into an xml structure. See
// http://wixtoolset.org/documentation/manual/v3/overview/heat.html
//
// The harvested files land in APPLICATIONFOLDER, which is what the
// WixUI_Advanced dialogs let the user relocate.
func (wo *wixTool) heat(ctx context.Context) error {
	_, err := wo.execOut(ctx,
		filepath.Join(wo.wixPath, "heat.exe"),
		"dir", wo.packageRoot,
		"-nologo",
		"-gg", "-g1",
		"-srd",
		"-sfrag",
		"-ke",
		"-cg", "AppFiles",
		"-template", "fragment",
		"-dr", ApplicationFolderId,
		"-var", "var.SourceDir",
		"-out", "AppFiles.wxs",
	)
	return err
}

// candle invokes wix's candle command. This is the wix compiler, It
// preprocesses and compiles WiX source files into object files
// (.wixobj).
func (wo *wixTool) candle(ctx context.Context) error {
	args := []string{
		"-nologo",
		"-arch", wo.msArch,
		"-dSourceDir=" + wo.packageRoot,
	}
	args = append(args, wo.extensionArgs()...)
	args = append(args, "Installer.wxs", "AppFiles.wxs")

	_, err := wo.execOut(ctx,
		filepath.Join(wo.wixPath, "candle.exe"),
		args...,
	)
	return err
}

// light invokes wix's light command. This links and binds one or more
// .wixobj files and creates a Windows Installer database (.msi or
// .msm). See http://wixtoolset.org/documentation/manual/v3/overview/light.html for options
func (wo *wixTool) light(ctx context.Context) error {
	args := []string{
		"-nologo",
		"-dcl:high", // compression level
		"-dSourceDir=" + wo.packageRoot,
	}
	args = append(args, wo.extensionArgs()...)

	if wo.cultures != "" {
		args = append(args, "-cultures:"+wo.cultures)
	}

	args = append(args,
		"AppFiles.wixobj",
		"Installer.wixobj",
		"-out", "out.msi",
	)

	if wo.skipValidation {
		args = append(args, "-sval")
	}

	_, err := wo.execOut(ctx,
		filepath.Join(wo.wixPath, "light.exe"),
		args...,
	)
	return err
}

func (wo *wixTool) extensionArgs() []string {
	var args []string
	for _, ext := range wo.extensions {
		args = append(args, "-ext", ext)
	}
	return args
}

func (wo *wixTool) execOut(ctx context.Context, argv0 string, args ...string) (string, error) {
	logger := ctxlog.FromContext(ctx)

	dockerArgs := []string{
		"run",
		"--entrypoint", "",
		"-v", fmt.Sprintf("%s:%s", wo.packageRoot, wo.packageRoot),
		"-v", fmt.Sprintf("%s:%s", wo.buildDir, wo.buildDir),
		"-w", wo.buildDir,
		wo.dockerImage,
		"wine",
		argv0,
	}

	dockerArgs = append(dockerArgs, args...)

	if wo.dockerImage != "" {
		argv0 = "docker"
		args = dockerArgs
	}

	cmd := wo.execCC(ctx, argv0, args...)

	level.Debug(logger).Log(
		"msg", "execing",
		"cmd", strings.Join(cmd.Args, " "),
	)

	cmd.Dir = wo.buildDir
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	cmd.Stdout, cmd.Stderr = stdout, stderr
	if err := cmd.Run(); err != nil {
		return "", errors.Wrapf(err, "run command %s %v\nstdout=%s\nstderr=%s", argv0, args, stdout, stderr)
	}
	return strings.TrimSpace(stdout.String()), nil
}
