package wix

import (
	"crypto/md5"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/serenize/snaker"
)

const (
	// ApplicationFolderId is the directory WixUI_Advanced installs
	// into. Heat harvests the package root here.
	ApplicationFolderId = "APPLICATIONFOLDER"

	targetDirId = "TARGETDIR"

	// wix identifiers are limited to 72 characters
	maxIdLength = 72
)

// Directory implements
// http://wixtoolset.org/documentation/manual/v3/xsd/wix/directory.html
type Directory struct {
	XMLName     xml.Name     `xml:"Directory"`
	Id          string       `xml:",attr"`
	Name        string       `xml:",attr,omitempty"`
	Directories []*Directory `xml:"Directory"`

	standard bool // a windows standard folder, not created by us
}

// find returns the child directory with the given name. Windows
// paths are case insensitive.
func (d *Directory) find(name string) *Directory {
	for _, c := range d.Directories {
		if strings.EqualFold(c.Name, name) {
			return c
		}
	}
	return nil
}

func (d *Directory) standardChild(id string) *Directory {
	for _, c := range d.Directories {
		if c.Id == id {
			return c
		}
	}
	c := &Directory{Id: id, standard: true}
	d.Directories = append(d.Directories, c)
	return c
}

// Layout builds the TARGETDIR tree out of directory templates. A
// template starts with a windows standard folder, such as
// `%ProgramFiles%\Acme\Widget`.
type Layout struct {
	msArch string
	root   *Directory
	paths  map[string][]*Directory // leaf id to the path leading to it
}

func NewLayout(msArch string) *Layout {
	return &Layout{
		msArch: msArch,
		root:   &Directory{Id: targetDirId, Name: "SourceDir", standard: true},
		paths:  make(map[string][]*Directory),
	}
}

// Add adds a directory template to the layout, and returns the id of
// the final directory. If leafId is set, it's used as the id of the
// final directory. Adding the same template twice is fine.
func (l *Layout) Add(template string, leafId string) (string, error) {
	parts := strings.FieldsFunc(template, func(r rune) bool { return r == '\\' || r == '/' })
	if len(parts) == 0 {
		return "", errors.New("empty directory template")
	}

	standardId, err := l.standardFolder(parts[0])
	if err != nil {
		return "", errors.Wrapf(err, "directory template %s", template)
	}

	cur := l.root.standardChild(standardId)
	path := []*Directory{cur}

	for i, name := range parts[1:] {
		last := i == len(parts)-2
		next := cur.find(name)

		switch {
		case next == nil:
			id := CleanId(cur.Id + "_" + name)
			if last && leafId != "" {
				id = leafId
			}
			next = &Directory{Id: id, Name: name}
			cur.Directories = append(cur.Directories, next)
		case last && leafId != "" && next.Id != leafId:
			return "", errors.Errorf("directory template %s was already added as %s", template, next.Id)
		}

		cur = next
		path = append(path, cur)
	}

	l.paths[cur.Id] = path
	return cur.Id, nil
}

// created returns the directories on the way to id that the
// installer creates, as opposed to windows standard ones.
func (l *Layout) created(id string) []*Directory {
	var dirs []*Directory
	for _, d := range l.paths[id] {
		if !d.standard {
			dirs = append(dirs, d)
		}
	}
	return dirs
}

// Xml writes the directory tree, suitable for embedding in a
// Product.
func (l *Layout) Xml(w io.Writer) error {
	enc := xml.NewEncoder(w)
	enc.Indent("    ", "  ")
	if err := enc.Encode(l.root); err != nil {
		return err
	}

	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}

	return nil
}

var standardFolderRe = regexp.MustCompile(`^%([A-Za-z]+)%$`)

// standardFolder maps %Name% to wix's standard directory ids. See
// https://learn.microsoft.com/en-us/windows/win32/msi/property-reference#system-folder-properties
func (l *Layout) standardFolder(part string) (string, error) {
	m := standardFolderRe.FindStringSubmatch(part)
	if m == nil {
		return "", errors.Errorf("%s is not a standard folder", part)
	}

	switch strings.ToLower(m[1]) {
	case "programfiles":
		if l.msArch == "x86" {
			return "ProgramFilesFolder", nil
		}
		return "ProgramFiles64Folder", nil
	case "programmenu":
		return "ProgramMenuFolder", nil
	case "desktop":
		return "DesktopFolder", nil
	case "startmenu":
		return "StartMenuFolder", nil
	case "startup":
		return "StartupFolder", nil
	case "appdata":
		return "AppDataFolder", nil
	case "localappdata":
		return "LocalAppDataFolder", nil
	case "commonappdata":
		return "CommonAppDataFolder", nil
	default:
		return "", errors.Errorf("unknown standard folder %s", part)
	}
}

var nonIdChars = regexp.MustCompile(`[^A-Za-z0-9]+`)

// CleanId converts a string into something usable as a wix
// identifier. Runs of unsupported characters become word breaks, and
// the whole thing is camel cased. Overly long identifiers are
// replaced by a hash.
func CleanId(in string) string {
	var id string
	if cleaned := strings.Trim(nonIdChars.ReplaceAllString(in, "_"), "_"); cleaned != "" {
		id = snaker.SnakeToCamel(cleaned)
	}

	if id == "" || (id[0] >= '0' && id[0] <= '9') {
		id = "Id" + id
	}

	if len(id) > maxIdLength {
		id = fmt.Sprintf("Id%X", md5.Sum([]byte(in)))
	}

	return id
}
