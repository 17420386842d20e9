package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/go-kit/kit/log/level"
	"github.com/kolide/kit/logutil"
	"github.com/kolide/kit/version"
	"github.com/kolide/msibuilder/pkg/contexts/ctxlog"
	"github.com/kolide/msibuilder/pkg/msibuild"
	"github.com/kolide/msibuilder/pkg/packagekit"
	"github.com/peterbourgon/ff/v3"
)

func runVersion(args []string) (msibuild.ExitCode, error) {
	version.PrintFull()
	return msibuild.ExitOK, nil
}

func runBuild(args []string) (msibuild.ExitCode, error) {
	return runMode(msibuild.ModeSimple, args)
}

func runRelease(args []string) (msibuild.ExitCode, error) {
	return runMode(msibuild.ModeRelease, args)
}

func runMode(mode msibuild.Mode, args []string) (msibuild.ExitCode, error) {
	flagset := flag.NewFlagSet(mode.String(), flag.ExitOnError)
	var (
		flDebug = flagset.Bool(
			"debug",
			false,
			"enable debug logging",
		)
		flConfig = flagset.String(
			"config",
			"",
			"path to config.ini, overriding the default location for the mode",
		)
		flWixPath = flagset.String(
			"wix_path",
			`C:\wix311`,
			"path to the wix toolset binaries",
		)
		flDockerImage = flagset.String(
			"docker_image",
			"",
			"run wix under wine in this docker image",
		)
		flArch = flagset.String(
			"arch",
			"",
			"installer architecture, x86 or x64. Defaults to the build architecture",
		)
		flSkipValidation = flagset.Bool(
			"skip_validation",
			false,
			"skip msi validation in light, and signature verification",
		)
		flCultures = flagset.String(
			"cultures",
			"en-us",
			"cultures light builds the installer ui for, eg: en-us;de-de",
		)
		flSigntoolPath = flagset.String(
			"signtool_path",
			"",
			"sign the installer with this signtool.exe. Empty disables signing",
		)
		flSigningSubject = flagset.String(
			"signing_subject",
			"",
			"subject name of the signing certificate",
		)
	)

	flagset.Usage = usageFor(flagset, strings.Replace(mode.Usage(), mode.String(), mode.String()+" [flags]", 1))

	if err := ff.Parse(flagset, args, ff.WithEnvVarPrefix("MSI_BUILDER")); err != nil {
		return msibuild.ExitUsage, err
	}

	logger := logutil.NewCLILogger(*flDebug)
	ctx := ctxlog.NewContext(context.Background(), logger)

	packager := &packagekit.WixPackager{
		WixPath:        *flWixPath,
		DockerImage:    *flDockerImage,
		Arch:           *flArch,
		SkipValidation: *flSkipValidation,
		Cultures:       *flCultures,
		SigntoolPath:   *flSigntoolPath,
		SigningSubject: *flSigningSubject,
	}

	opts := []msibuild.Option{msibuild.WithStdout(os.Stdout)}
	if *flConfig != "" {
		opts = append(opts, msibuild.WithConfigPath(*flConfig))
	}

	level.Debug(logger).Log("msg", "starting", "mode", mode, "version", version.Version().Version)

	return msibuild.New(packager, opts...).Run(ctx, mode, flagset.Args())
}

func usageFor(fs *flag.FlagSet, short string) func() {
	return func() {
		fmt.Fprintf(os.Stderr, "USAGE\n")
		fmt.Fprintf(os.Stderr, "  %s\n", short)
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "FLAGS\n")
		w := tabwriter.NewWriter(os.Stderr, 0, 2, 2, ' ', 0)
		fs.VisitAll(func(f *flag.Flag) {
			fmt.Fprintf(w, "\t-%s %s\t%s\n", f.Name, f.DefValue, f.Usage)
		})
		w.Flush()
		fmt.Fprintf(os.Stderr, "\n")
		fmt.Fprintf(os.Stderr, "Flags may also be set as MSI_BUILDER_<FLAG> environment variables.\n")
		fmt.Fprintf(os.Stderr, "\n")
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "USAGE\n")
	fmt.Fprintf(os.Stderr, "  %s <mode> --help\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "MODES\n")
	fmt.Fprintf(os.Stderr, "  build        Build an msi from artifacts/config.ini in the working directory\n")
	fmt.Fprintf(os.Stderr, "  release      Build a versioned msi using the artifacts next to this executable\n")
	fmt.Fprintf(os.Stderr, "  version      Print full version information\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "VERSION\n")
	fmt.Fprintf(os.Stderr, "  %s\n", version.Version().Version)
	fmt.Fprintf(os.Stderr, "\n")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(int(msibuild.ExitUsage))
	}

	var run func([]string) (msibuild.ExitCode, error)
	switch strings.ToLower(os.Args[1]) {
	case "version":
		run = runVersion
	case "build":
		run = runBuild
	case "release":
		run = runRelease
	default:
		usage()
		os.Exit(int(msibuild.ExitUsage))
	}

	code, err := run(os.Args[2:])
	if err != nil {
		logger := logutil.NewCLILogger(true)
		logutil.Fatal(logger, "msg", "msi-builder failed", "err", err)
	}

	os.Exit(int(code))
}
