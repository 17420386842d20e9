package packagekit

// PackageOptions is the fully resolved set of parameters an installer
// is built from. Paths are used as given, callers resolve them first.
type PackageOptions struct {
	Name           string // Display name (eg: Acme Widget)
	AppFolderName  string // Default name of the install folder (eg: Widget)
	InstallDir     string // Install directory template (eg: %ProgramFiles%\Acme\Widget)
	ProgramMenuDir string // Start menu directory template (eg: %ProgramMenu%\Acme\Widget)
	Root           string // source directory to package
	Shortcuts      []Shortcut

	Guid         string // product guid, used as the upgrade code
	Version      string // package version
	Manufacturer string
	Contact      string

	LicenceFile     string // rtf shown by the licence dialog
	BannerImage     string // top banner bitmap
	BackgroundImage string // dialog background bitmap
	ProductIcon     string // icon for Add/Remove Programs, optional

	OutFileName string // file name of the installer. .msi is appended if missing
	OutDir      string // directory the installer is written to

	PreserveTempFiles bool // keep the intermediate build files
}

// Shortcut describes a single shortcut the installer creates.
type Shortcut struct {
	Name             string
	Directory        string // directory template (eg: %Desktop%)
	Target           string // formatted target (eg: [APPLICATIONFOLDER]widget.exe)
	Arguments        string
	WorkingDirectory string // eg: [APPLICATIONFOLDER]

	// Optional feature the shortcut belongs to. Empty puts it in the
	// main feature.
	Feature            string
	FeatureDescription string
}
