package wix

import (
	"encoding/xml"
	"io"
	"strings"

	"github.com/pkg/errors"
)

type YesNoType string

const (
	Yes YesNoType = "yes"
	No            = "no"
)

// Shortcut implements
// http://wixtoolset.org/documentation/manual/v3/xsd/wix/shortcut.html
//
// Only non-advertised shortcuts are supported, so Target is a
// formatted string like `[APPLICATIONFOLDER]app.exe`.
type Shortcut struct {
	XMLName          xml.Name `xml:"Shortcut"`
	Id               string   `xml:",attr"`
	Name             string   `xml:",attr"`
	Description      string   `xml:",attr,omitempty"`
	Target           string   `xml:",attr"`
	Arguments        string   `xml:",attr,omitempty"`
	WorkingDirectory string   `xml:",attr,omitempty"`
}

// RemoveFolder implements
// http://wixtoolset.org/documentation/manual/v3/xsd/wix/removefolder.html
type RemoveFolder struct {
	XMLName   xml.Name `xml:"RemoveFolder"`
	Id        string   `xml:",attr"`
	Directory string   `xml:",attr"`
	On        string   `xml:",attr"`
}

// RegistryValue implements
// http://wixtoolset.org/documentation/manual/v3/xsd/wix/registryvalue.html
type RegistryValue struct {
	XMLName xml.Name  `xml:"RegistryValue"`
	Root    string    `xml:",attr"`
	Key     string    `xml:",attr"`
	Name    string    `xml:",attr"`
	Type    string    `xml:",attr"`
	Value   string    `xml:",attr"`
	KeyPath YesNoType `xml:",attr"`
}

// Component implements
// http://wixtoolset.org/documentation/manual/v3/xsd/wix/component.html
type Component struct {
	XMLName       xml.Name        `xml:"Component"`
	Id            string          `xml:",attr"`
	Guid          string          `xml:",attr"`
	Shortcut      *Shortcut       `xml:"Shortcut,omitempty"`
	RemoveFolders []*RemoveFolder `xml:"RemoveFolder,omitempty"`
	RegistryValue *RegistryValue  `xml:"RegistryValue,omitempty"`
}

// DirectoryRef implements
// http://wixtoolset.org/documentation/manual/v3/xsd/wix/directoryref.html
type DirectoryRef struct {
	XMLName    xml.Name     `xml:"DirectoryRef"`
	Id         string       `xml:",attr"`
	Components []*Component `xml:"Component,omitempty"`
}

type ComponentRef struct {
	XMLName xml.Name `xml:"ComponentRef"`
	Id      string   `xml:",attr"`
}

// Feature implements
// http://wixtoolset.org/documentation/manual/v3/xsd/wix/feature.html
type Feature struct {
	XMLName       xml.Name        `xml:"Feature"`
	Id            string          `xml:",attr"`
	Title         string          `xml:",attr"`
	Description   string          `xml:",attr,omitempty"`
	Level         int             `xml:",attr"`
	ComponentRefs []*ComponentRef `xml:"ComponentRef,omitempty"`
}

// Shortcuts places shortcuts into a Layout. Each shortcut gets its own
// component, keyed off a per-user registry value, as windows requires
// for shortcuts in user profile folders.
type Shortcuts struct {
	layout      *Layout
	registryKey string

	dirRefs  []*DirectoryRef
	features []*Feature
	mainRefs []*ComponentRef // components not in a named feature
	seen     map[string]bool
}

type ShortcutOpt func(*shortcutOptions)

type shortcutOptions struct {
	feature     string
	description string
}

// InFeature puts the shortcut into an optional feature. Shortcuts
// sharing a feature title share the feature.
func InFeature(title, description string) ShortcutOpt {
	return func(so *shortcutOptions) {
		so.feature = title
		so.description = description
	}
}

// NewShortcuts returns a Shortcuts. registryKey is the HKCU key the
// component key paths live under, eg: `Software\Acme\Widget`.
func NewShortcuts(layout *Layout, registryKey string) *Shortcuts {
	return &Shortcuts{
		layout:      layout,
		registryKey: registryKey,
		seen:        make(map[string]bool),
	}
}

// Add places a shortcut into the directory named by template.
func (s *Shortcuts) Add(template string, name, target, arguments, workingDirectory string, opts ...ShortcutOpt) error {
	so := &shortcutOptions{}
	for _, opt := range opts {
		opt(so)
	}

	if name == "" {
		return errors.New("shortcut needs a name")
	}
	if target == "" {
		return errors.Errorf("shortcut %s needs a target", name)
	}

	dirId, err := s.layout.Add(template, "")
	if err != nil {
		return errors.Wrapf(err, "shortcut %s", name)
	}

	compId := CleanId("Shortcut_" + dirId + "_" + name)
	if s.seen[compId] {
		return errors.Errorf("duplicate shortcut %s in %s", name, template)
	}
	s.seen[compId] = true

	comp := &Component{
		Id:   compId,
		Guid: "*",
		Shortcut: &Shortcut{
			Id:               CleanId("Sc_" + compId),
			Name:             name,
			Target:           target,
			Arguments:        arguments,
			WorkingDirectory: directoryReference(workingDirectory),
		},
		RegistryValue: &RegistryValue{
			Root:    "HKCU",
			Key:     s.registryKey,
			Name:    compId,
			Type:    "integer",
			Value:   "1",
			KeyPath: Yes,
		},
	}

	for _, d := range s.layout.created(dirId) {
		comp.RemoveFolders = append(comp.RemoveFolders, &RemoveFolder{
			Id:        CleanId("Rm_" + compId + "_" + d.Id),
			Directory: d.Id,
			On:        "uninstall",
		})
	}

	s.dirRef(dirId).Components = append(s.dirRef(dirId).Components, comp)

	ref := &ComponentRef{Id: compId}
	if so.feature == "" {
		s.mainRefs = append(s.mainRefs, ref)
	} else {
		f := s.feature(so.feature, so.description)
		f.ComponentRefs = append(f.ComponentRefs, ref)
	}

	return nil
}

func (s *Shortcuts) dirRef(id string) *DirectoryRef {
	for _, d := range s.dirRefs {
		if d.Id == id {
			return d
		}
	}
	d := &DirectoryRef{Id: id}
	s.dirRefs = append(s.dirRefs, d)
	return d
}

func (s *Shortcuts) feature(title, description string) *Feature {
	for _, f := range s.features {
		if f.Title == title {
			return f
		}
	}
	f := &Feature{
		Id:          CleanId("Feature_" + title),
		Title:       title,
		Description: description,
		Level:       1,
	}
	s.features = append(s.features, f)
	return f
}

// ComponentsXml writes the DirectoryRefs holding the shortcut
// components.
func (s *Shortcuts) ComponentsXml(w io.Writer) error {
	return encodeAll(w, s.dirRefs)
}

// MainRefsXml writes ComponentRefs for the shortcuts that belong to
// the main feature.
func (s *Shortcuts) MainRefsXml(w io.Writer) error {
	return encodeAll(w, s.mainRefs)
}

// FeaturesXml writes the optional shortcut features.
func (s *Shortcuts) FeaturesXml(w io.Writer) error {
	return encodeAll(w, s.features)
}

func encodeAll[T any](w io.Writer, items []T) error {
	if len(items) == 0 {
		return nil
	}

	enc := xml.NewEncoder(w)
	enc.Indent("    ", "  ")
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return err
		}
	}

	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}

	return nil
}

// directoryReference converts `[APPLICATIONFOLDER]` into the bare
// directory id the WorkingDirectory attribute wants.
func directoryReference(in string) string {
	return strings.TrimSuffix(strings.TrimPrefix(in, "["), "]")
}
