// Package authenticode is a light wrapper around signing installers
// with signtool.exe.
//
// See
//
// https://docs.microsoft.com/en-us/dotnet/framework/tools/signtool-exe
package authenticode

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/go-kit/kit/log/level"
	"github.com/kolide/msibuilder/pkg/contexts/ctxlog"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
)

const (
	defaultTimestampServer = "http://timestamp.digicert.com"
	defaultRFC3161Server   = "http://timestamp.digicert.com"
)

// signtoolOptions are the options for how we call signtool.exe. These
// are *not* the tool options, but instead our own representation of
// the arguments.
type signtoolOptions struct {
	extraArgs       []string
	subjectName     string // If present, use this as the `/n` argument
	skipValidation  bool
	signtoolPath    string
	timestampServer string
	rfc3161Server   string

	execCC func(context.Context, string, ...string) *exec.Cmd // Allows test overrides
}

type SigntoolOpt func(*signtoolOptions)

// SkipValidation skips the `signtool verify` pass.
func SkipValidation() SigntoolOpt {
	return func(so *signtoolOptions) {
		so.skipValidation = true
	}
}

// WithExtraArgs set additional arguments for signtool sign. Common
// ones may be {`/f`, "cert.pfx"}
func WithExtraArgs(args []string) SigntoolOpt {
	return func(so *signtoolOptions) {
		so.extraArgs = args
	}
}

func WithSigntoolPath(path string) SigntoolOpt {
	return func(so *signtoolOptions) {
		so.signtoolPath = path
	}
}

// WithSubjectName selects the signing certificate by subject name.
func WithSubjectName(name string) SigntoolOpt {
	return func(so *signtoolOptions) {
		so.subjectName = name
	}
}

func WithTimestampServer(url string) SigntoolOpt {
	return func(so *signtoolOptions) {
		so.timestampServer = url
	}
}

func WithRFC3161Server(url string) SigntoolOpt {
	return func(so *signtoolOptions) {
		so.rfc3161Server = url
	}
}

// Sign signs file in place. It applies a sha1 signature, appends a
// sha256 one, and then verifies the result.
func Sign(ctx context.Context, file string, opts ...SigntoolOpt) error {
	ctx, span := trace.StartSpan(ctx, "authenticode.Sign")
	defer span.End()

	so := &signtoolOptions{
		signtoolPath:    "signtool.exe",
		timestampServer: defaultTimestampServer,
		rfc3161Server:   defaultRFC3161Server,
		execCC:          exec.CommandContext,
	}

	for _, opt := range opts {
		opt(so)
	}

	// signtool.exe can be called multiple times to apply multiple
	// signatures. _But_ it uses different arguments for the subsequent
	// signatures. So, multiple calls.
	// Some info at https://knowledge.digicert.com/generalinformation/INFO2274.html
	sha1Args := []string{
		"sign",
		"/fd", "sha1",
		"/t", so.timestampServer,
		"/v",
	}

	sha256Args := []string{
		"sign",
		"/as",
		"/fd", "sha256",
		"/tr", so.rfc3161Server,
		"/td", "sha256",
		"/v",
	}

	for _, args := range [][]string{sha1Args, sha256Args} {
		if so.subjectName != "" {
			args = append(args, "/n", so.subjectName)
		}
		args = append(args, so.extraArgs...)
		args = append(args, file)

		if _, _, err := so.execOut(ctx, so.signtoolPath, args...); err != nil {
			return errors.Wrap(err, "calling signtool")
		}
	}

	if so.skipValidation {
		return nil
	}

	if _, _, err := so.execOut(ctx, so.signtoolPath, "verify", "/pa", "/all", file); err != nil {
		return errors.Wrapf(err, "verifying signature on %s", file)
	}

	return nil
}

func (so *signtoolOptions) execOut(ctx context.Context, argv0 string, args ...string) (string, string, error) {
	logger := ctxlog.FromContext(ctx)

	cmd := so.execCC(ctx, argv0, args...)

	level.Debug(logger).Log(
		"msg", "execing",
		"cmd", strings.Join(cmd.Args, " "),
	)

	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	cmd.Stdout, cmd.Stderr = stdout, stderr
	if err := cmd.Run(); err != nil {
		return strings.TrimSpace(stdout.String()), strings.TrimSpace(stderr.String()), errors.Wrapf(err, "run command %s %v, stderr=%s", argv0, args, stderr)
	}
	return strings.TrimSpace(stdout.String()), strings.TrimSpace(stderr.String()), nil
}
