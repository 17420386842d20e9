// Package config loads the INI file describing the application an
// installer is built for.
//
// The file holds a single [config] section:
//
//	[config]
//	Company=Acme
//	FullAppName=Acme Widget
//	AppName=Widget
//	...
//
// See testdata/example_config.ini for the full set of keys.
package config

import (
	"io/ioutil"
	"os"
	"strings"

	"github.com/Masterminds/semver"
	"github.com/go-ini/ini"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// SectionName is the INI section all keys are read from.
const SectionName = "config"

// INI key names. BackgroungImage is misspelled in every config file
// in the wild, so it stays that way.
const (
	KeyCompany           = "Company"
	KeyFullAppName       = "FullAppName"
	KeyAppName           = "AppName"
	KeyShortcutName      = "ShortCutName"
	KeyExecutableName    = "ExecutableName"
	KeyManufacturer      = "Manufacturer"
	KeyVersion           = "Version"
	KeyContact           = "Contact"
	KeyBackgroundImage   = "BackgroungImage"
	KeyLicenceFile       = "LicenceFile"
	KeyGuid              = "Guid"
	KeyOutFileName       = "OutFileName"
	KeyBannerImage       = "BannerImage"
	KeyPreserveTempFiles = "PreserveTempFiles"
	KeyProductIcon       = "ProductIcon"
)

// Config describes the application being packaged. It is built once
// by Load and treated as read only afterwards.
type Config struct {
	Company        string
	FullAppName    string
	AppName        string
	ShortcutName   string
	ExecutableName string // relative to the install directory
	Manufacturer   string
	Version        string // empty only when loaded WithOptionalVersion
	Contact        string
	Guid           string

	// Asset paths. These are not checked for existence here, the
	// caller may still need to resolve them against another
	// directory.
	BackgroundImage string
	LicenceFile     string
	BannerImage     string
	ProductIcon     string

	OutFileName       string
	PreserveTempFiles bool
}

type loadOptions struct {
	versionOptional bool
}

type Option func(*loadOptions)

// WithOptionalVersion allows the Version key to be absent. Used when
// the version comes from somewhere else, like the command line.
func WithOptionalVersion() Option {
	return func(lo *loadOptions) {
		lo.versionOptional = true
	}
}

// Load reads the [config] section of the INI file at path. All
// failures are returned as *Error.
func Load(path string, opts ...Option) (Config, error) {
	lo := &loadOptions{}
	for _, opt := range opts {
		opt(lo)
	}

	data, err := readFile(path)
	if err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			return Config{}, notFound(path, err)
		}
		return Config{}, malformed(path, err)
	}

	cfg, err := parse(data, lo)
	if err != nil {
		return Config{}, malformed(path, err)
	}

	return cfg, nil
}

// readFile returns the file contents as UTF-8. INI files saved by
// windows tools are frequently UTF-16 with a BOM, which go-ini can't
// read directly.
func readFile(path string) ([]byte, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer fh.Close()

	rd := transform.NewReader(fh, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	data, err := ioutil.ReadAll(rd)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}

	return data, nil
}

func parse(data []byte, lo *loadOptions) (Config, error) {
	// Values are taken verbatim. `#` and `;` show up in app names and
	// urls, and windows paths end in backslashes.
	iniFile, err := ini.LoadSources(ini.LoadOptions{
		IgnoreInlineComment: true,
		IgnoreContinuation:  true,
	}, data)
	if err != nil {
		return Config{}, errors.Wrap(err, "parsing ini")
	}

	section, err := iniFile.GetSection(SectionName)
	if err != nil {
		return Config{}, errors.Wrapf(err, "reading section [%s]", SectionName)
	}

	r := &sectionReader{section: section}

	cfg := Config{
		Company:         r.required(KeyCompany),
		FullAppName:     r.required(KeyFullAppName),
		AppName:         r.required(KeyAppName),
		ShortcutName:    r.required(KeyShortcutName),
		ExecutableName:  r.required(KeyExecutableName),
		Manufacturer:    r.required(KeyManufacturer),
		Contact:         r.required(KeyContact),
		BackgroundImage: r.required(KeyBackgroundImage),
		LicenceFile:     r.required(KeyLicenceFile),
		Guid:            r.required(KeyGuid),
		OutFileName:     r.required(KeyOutFileName),
		BannerImage:     r.required(KeyBannerImage),
		ProductIcon:     r.optional(KeyProductIcon),

		PreserveTempFiles: ParseBool(r.optional(KeyPreserveTempFiles)),
	}

	if lo.versionOptional {
		cfg.Version = r.optional(KeyVersion)
	} else {
		cfg.Version = r.required(KeyVersion)
	}

	if len(r.missing) > 0 {
		return Config{}, errors.Errorf("missing or empty keys in section [%s]: %s", SectionName, strings.Join(r.missing, ", "))
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	if _, err := uuid.Parse(c.Guid); err != nil {
		return errors.Wrapf(err, "%s %q is not a valid guid", KeyGuid, c.Guid)
	}

	if err := ValidateFileName(c.ExecutableName); err != nil {
		return errors.Wrapf(err, "%s", KeyExecutableName)
	}

	if c.Version != "" {
		if err := ValidateVersion(c.Version); err != nil {
			return errors.Wrapf(err, "%s", KeyVersion)
		}
	}

	return nil
}

// sectionReader collects every missing key, so a single error can
// report all of them.
type sectionReader struct {
	section *ini.Section
	missing []string
}

func (r *sectionReader) required(key string) string {
	v := r.optional(key)
	if v == "" {
		r.missing = append(r.missing, key)
	}
	return v
}

func (r *sectionReader) optional(key string) string {
	if !r.section.HasKey(key) {
		return ""
	}
	return r.section.Key(key).String()
}

// ParseBool returns true for "true" in any case. Everything else,
// including the empty string, is false.
func ParseBool(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), "true")
}

// ValidateVersion checks that v looks like Major.Minor.Build.
func ValidateVersion(v string) error {
	if _, err := semver.NewVersion(v); err != nil {
		return errors.Wrapf(err, "version %q", v)
	}
	return nil
}

// ValidateFileName checks that name is a bare file name, usable
// directly inside an install directory. Both slash styles count as
// separators.
func ValidateFileName(name string) error {
	if name == "" {
		return errors.New("empty file name")
	}

	if strings.HasPrefix(name, `\`) || strings.HasPrefix(name, "/") {
		return errors.Errorf("%q is not relative", name)
	}

	if strings.HasSuffix(name, "/") || strings.HasSuffix(name, `\`) {
		return errors.Errorf("%q names a directory", name)
	}

	segments := strings.FieldsFunc(name, func(r rune) bool { return r == '/' || r == '\\' })
	if len(segments) > 1 {
		return errors.Errorf("%q may not contain a directory", name)
	}
	for _, seg := range segments {
		if seg == "." || seg == ".." {
			return errors.Errorf("%q may not contain %s", name, seg)
		}
		if strings.ContainsAny(seg, `<>:"|?*`) {
			return errors.Errorf("%q contains characters windows does not allow in file names", name)
		}
		for _, r := range seg {
			if r < 0x20 {
				return errors.Errorf("%q contains control characters", name)
			}
		}
	}

	return nil
}
