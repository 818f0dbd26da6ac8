package build

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oshokin/mathworks-packager/internal/archive"
	"github.com/oshokin/mathworks-packager/internal/checkpoint"
	"github.com/oshokin/mathworks-packager/internal/config"
	"github.com/oshokin/mathworks-packager/internal/dmg"
	"github.com/oshokin/mathworks-packager/internal/license"
	"github.com/oshokin/mathworks-packager/internal/logger"
	"github.com/oshokin/mathworks-packager/internal/mdm"
	"github.com/oshokin/mathworks-packager/internal/pkgbuild"
	"github.com/oshokin/mathworks-packager/internal/product"
)

const (
	// nlmProductName is the license manager product bundled into every package.
	nlmProductName = "Network License Manager"

	// installerEntryName keys the installer's policy definition in the checkpoint.
	installerEntryName = "Installer"

	// installAllEntryName keys the combined self-service policy.
	installAllEntryName = "Install All"

	// checkpointFilename is the run record written to the work folder.
	checkpointFilename = "policy_definitions.json"

	// archivesDirName holds payload files inside the staging folder.
	archivesDirName = "archives"

	// packageRootDirName is the pkgbuild payload root inside the work folder.
	packageRootDirName = "ROOT"

	// packagesDirName collects built packages inside the work folder.
	packagesDirName = "packages"
)

var errNoArchive = errors.New("platform archive not found in installer volume")

// Options are inputs accepted by the build entry point.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// DMGPath locates the vendor installer disk image.
	DMGPath string
	// WorkFolder is where packages and the checkpoint are produced.
	// Defaults to the disk image's directory.
	WorkFolder string
	// TargetsPath is a newline-separated product list file. Ignored when
	// Products is set.
	TargetsPath string
	// Products overrides the targets file with explicit product names.
	Products []string
	// Credentials supplies API credentials. Defaults to an interactive
	// prompt seeded from Username/Password.
	Credentials mdm.CredentialProvider
	// Username and Password seed the default credential prompt.
	Username string
	Password string
	// SkipProcessing resumes policy creation from an existing checkpoint
	// without repackaging the disk image.
	SkipProcessing bool
	// CommandRunner substitutes external command execution in tests.
	CommandRunner pkgbuild.Runner
}

// runner holds the state of one packaging run. It is intentionally
// unexported; call Run(ctx, opts) from callers.
type runner struct {
	cfg     *config.Config
	opts    *Options
	client  *mdm.Client
	mounter *dmg.Mounter
	builder *pkgbuild.Builder
	repo    checkpoint.Repository

	image    *dmg.Image
	archives map[product.Platform]*archive.Archive

	// appArchives is the archives directory inside the mounted installer app.
	appArchives string
	// workFolder, packageRoot, packageArchives and packageDestination are the
	// working tree: ROOT/<staging>/archives receives payloads, packages/
	// receives built pkg files.
	workFolder         string
	packageRoot        string
	packageArchives    string
	packageDestination string

	targets     []*product.Product
	labels      labels
	nlmZips     map[product.Platform]string
	licenseKey  string
	licenseHash string
	record      *checkpoint.Checkpoint
	categoryIDs map[string]string
	groupID     string
}

// Run converts the vendor disk image into per-product packages, uploads them
// and creates the deployment policies. It is the public entry point for the
// mwpkg-build CLI.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "mwpkg-build")

	r, err := newRunner(ctx, opts)
	if r != nil {
		// The disk image must be detached even when a later setup step fails.
		defer r.cleanup(ctx)
	}

	if err != nil {
		return err
	}

	if err = r.run(ctx); err != nil {
		logger.ErrorKV(ctx, "Build run failed", "error", err)
		return err
	}

	logger.Info(ctx, "Build run completed")

	return nil
}

// newRunner performs the check phase: everything that must hold before any
// processing starts.
func newRunner(ctx context.Context, opts *Options) (*runner, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	r := &runner{
		cfg:      cfg,
		opts:     opts,
		mounter:  dmg.NewMounter(cfg.VolumeGlob, dmg.Runner(opts.CommandRunner)),
		builder:  pkgbuild.NewBuilder(opts.CommandRunner),
		archives: make(map[product.Platform]*archive.Archive, len(product.Platforms())),
		nlmZips:  make(map[product.Platform]string, len(product.Platforms())),
	}

	credentials, err := r.obtainCredentials(ctx)
	if err != nil {
		return nil, err
	}

	r.client = mdm.NewClient(mdm.Options{
		BaseURL:       cfg.ServerURL,
		Credentials:   credentials,
		RetryCount:    cfg.RetryCount,
		Timeout:       cfg.Timeout,
		UploadTimeout: cfg.UploadTimeout,
		Logger:        logger.FromContext(ctx),
	})

	if _, err = os.Stat(opts.DMGPath); err != nil {
		return nil, fmt.Errorf("disk image: %w", err)
	}

	if err = r.prepareWorkFolder(); err != nil {
		return nil, err
	}

	if err = r.mountAndOpenArchives(ctx); err != nil {
		return r, err
	}

	if err = r.resolveTargets(); err != nil {
		return r, err
	}

	r.repo = checkpoint.NewFileRepository(filepath.Join(r.workFolder, checkpointFilename))

	return r, nil
}

// obtainCredentials resolves API credentials from the configured provider,
// falling back to an interactive prompt seeded with the flag values.
func (r *runner) obtainCredentials(ctx context.Context) (mdm.Credentials, error) {
	provider := r.opts.Credentials
	if provider == nil {
		provider = mdm.PromptProvider{
			Username: r.opts.Username,
			Password: r.opts.Password,
		}
	}

	return provider.Credentials(ctx)
}

// prepareWorkFolder decides the working tree layout and creates it.
func (r *runner) prepareWorkFolder() error {
	r.workFolder = r.opts.WorkFolder
	if r.workFolder == "" {
		r.workFolder = filepath.Dir(r.opts.DMGPath)
	}

	if err := os.MkdirAll(r.workFolder, os.ModePerm); err != nil {
		return fmt.Errorf("create work folder: %w", err)
	}

	// ROOT mirrors the on-device staging folder so installed payloads land
	// where the prestage and install tools expect them.
	r.packageRoot = filepath.Join(r.workFolder, packageRootDirName)
	stagingRelative := strings.TrimPrefix(r.cfg.StagingFolder, string(filepath.Separator))
	r.packageArchives = filepath.Join(r.packageRoot, stagingRelative, archivesDirName)
	r.packageDestination = filepath.Join(r.workFolder, packagesDirName)

	if err := os.MkdirAll(r.packageDestination, os.ModePerm); err != nil {
		return fmt.Errorf("create package destination: %w", err)
	}

	return nil
}

// mountAndOpenArchives attaches the disk image and opens both platform
// archives inside the installer app bundle.
func (r *runner) mountAndOpenArchives(ctx context.Context) error {
	image, err := r.mounter.Mount(ctx, r.opts.DMGPath)
	if err != nil {
		return err
	}

	r.image = image
	r.appArchives = filepath.Join(image.MountPoint, r.cfg.InstallerApp, "Contents", "MacOS", archivesDirName)

	for _, platform := range product.Platforms() {
		path := filepath.Join(r.appArchives, fmt.Sprintf("platform_%s.zip", platform))

		arch, err := archive.Open(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, errNoArchive)
		}

		r.archives[platform] = arch
	}

	return nil
}

// resolveTargets builds the product list from flags or the targets file.
func (r *runner) resolveTargets() error {
	if len(r.opts.Products) > 0 {
		r.targets = make([]*product.Product, 0, len(r.opts.Products))
		for _, name := range r.opts.Products {
			r.targets = append(r.targets, product.New(name))
		}

		return nil
	}

	targets, err := product.LoadTargets(r.opts.TargetsPath)
	if err != nil {
		return err
	}

	r.targets = targets

	return nil
}

// cleanup closes archives and always detaches the disk image.
func (r *runner) cleanup(ctx context.Context) {
	for _, arch := range r.archives {
		if arch != nil {
			_ = arch.Close()
		}
	}

	if err := r.mounter.Detach(ctx, r.image); err != nil {
		logger.ErrorKV(ctx, "Cannot unmount disk image", "error", err)
	}
}

// run executes the processing, per-product, and policy phases.
func (r *runner) run(ctx context.Context) error {
	names := make([]string, 0, len(r.targets))
	for _, target := range r.targets {
		names = append(names, target.Name)
	}

	logger.InfoKV(ctx, "Targeting products", "products", strings.Join(names, ", "))

	if err := r.processInstaller(ctx); err != nil {
		return err
	}

	r.processProducts(ctx)

	r.createPolicies(ctx)

	r.record.Family = r.labels.family
	r.record.UpdatedAt = time.Now().UTC()

	return r.repo.Save(ctx, r.record)
}

// processInstaller covers everything the per-product loop depends on: the
// license manager zips, the release family labels, the installer package,
// categories, the static group, license artifacts and the checkpoint.
func (r *runner) processInstaller(ctx context.Context) error {
	if err := r.buildNLMArchives(ctx); err != nil {
		return err
	}

	if err := cleanDirectory(r.packageRoot); err != nil {
		return err
	}

	installerPackage, err := r.createInstallerPackage(ctx)
	if err != nil {
		return err
	}

	// The installer is essential to installing anything, so upload failures
	// are fatal here, unlike per-product failures.
	installerPackageID, err := r.client.UploadPackage(ctx, installerPackage)
	if err != nil {
		return fmt.Errorf("upload installer package: %w", err)
	}

	categoryIDs, groupID, err := r.ensureCategoriesAndGroup(ctx)
	if err != nil {
		return err
	}

	r.licenseKey, err = license.ReadInstallationKey(r.cfg.LicenseFolder, r.labels.family)
	if err != nil {
		return err
	}

	r.licenseHash, err = license.ReadHash(r.cfg.LicenseFolder, r.labels.family)
	if err != nil {
		return err
	}

	if err = r.loadCheckpoint(ctx); err != nil {
		return err
	}

	stem := r.labels.installerStem()
	installer := r.record.Ensure(installerEntryName)
	installer.AnchorCategory = r.labels.categoryAnchor
	installer.AnchorCategoryID = categoryIDs[r.labels.categoryAnchor]
	installer.AnchorName = stem
	installer.AnchorTrigger = anchorTrigger(stem)
	installer.Dependencies = []string{}
	installer.IsToolbox = false
	installer.PackageID = installerPackageID
	installer.PackageName = filepath.Base(installerPackage)
	installer.ScopeID = groupID
	installer.ScopeName = r.labels.staticGroup

	r.categoryIDs = categoryIDs
	r.groupID = groupID

	return nil
}

// buildNLMArchives stages the license manager product once and zips it for
// both platforms. The family labels come from its product document.
func (r *runner) buildNLMArchives(ctx context.Context) error {
	nlm := product.New(nlmProductName)
	nlmRoot := filepath.Join(r.workFolder, nlmProductName)

	if err := r.stageProduct(ctx, nlm, nlmRoot); err != nil {
		return err
	}

	r.labels = labelsForFamily(nlm.Family())

	logger.InfoKV(ctx, "Release family", "family", r.labels.family)

	for _, platform := range product.Platforms() {
		zipPath, err := pkgbuild.CompressNLM(nlmRoot, string(platform), nlm.Version())
		if err != nil {
			return err
		}

		r.nlmZips[platform] = zipPath
	}

	return nil
}

// createInstallerPackage extracts the embedded installer payload into the
// package root and builds the installer package. An existing package file is
// reused.
func (r *runner) createInstallerPackage(ctx context.Context) (string, error) {
	packagePath := filepath.Join(r.packageDestination, r.labels.installerStem()+".pkg")
	if _, err := os.Stat(packagePath); err == nil {
		logger.InfoKV(ctx, "Package exists, skipping installer creation.",
			"package", filepath.Base(packagePath))

		return packagePath, nil
	}

	installerDir := filepath.Dir(r.appArchives)
	destination := filepath.Dir(r.packageArchives)

	if err := pkgbuild.ExtractInstaller(installerDir, destination); err != nil {
		return "", err
	}

	if err := r.builder.Build(ctx, r.packageRoot, packagePath); err != nil {
		return "", err
	}

	return packagePath, nil
}

// ensureCategoriesAndGroup creates the four policy categories and the
// advertised static group, returning their ids.
func (r *runner) ensureCategoriesAndGroup(ctx context.Context) (map[string]string, string, error) {
	categories := []string{
		r.labels.category,
		r.labels.categoryToolbox,
		r.labels.categoryAnchor,
		r.labels.categoryAnchorToolbox,
	}

	ids := make(map[string]string, len(categories))

	for _, name := range categories {
		id, err := r.client.EnsureCategory(ctx, name)
		if err != nil {
			return nil, "", fmt.Errorf("ensure category %q: %w", name, err)
		}

		ids[name] = id
	}

	groupID, err := r.client.EnsureStaticGroup(ctx, r.labels.staticGroup)
	if err != nil {
		return nil, "", fmt.Errorf("ensure static group %q: %w", r.labels.staticGroup, err)
	}

	logger.InfoKV(ctx, "Static group", "name", r.labels.staticGroup, "id", groupID)

	return ids, groupID, nil
}

// loadCheckpoint reads the existing run record or starts a fresh one.
func (r *runner) loadCheckpoint(ctx context.Context) error {
	record, err := r.repo.Load(ctx)

	switch {
	case err == nil:
		r.record = record
	case errors.Is(err, checkpoint.ErrNotFound):
		if r.opts.SkipProcessing {
			return fmt.Errorf("resume requested: %w", err)
		}

		r.record = checkpoint.New()
	default:
		return err
	}

	return nil
}

// processProducts runs the per-product extraction, packaging and upload
// loop. Failures are logged and the loop continues; a single broken product
// must not abort the whole family.
func (r *runner) processProducts(ctx context.Context) {
	if r.opts.SkipProcessing {
		logger.Info(ctx, "Skipping product processing!")
		return
	}

	for _, target := range r.targets {
		if err := r.processProduct(ctx, target); err != nil {
			logger.ErrorKV(ctx, "Product processing failed, skipping further processing.",
				"product", target.Name, "error", err)
		}
	}
}

// processProduct stages, defines, packages and uploads one product.
func (r *runner) processProduct(ctx context.Context, target *product.Product) error {
	// A stale package root would leak prior product payloads into this package.
	if err := cleanDirectory(r.packageRoot); err != nil {
		return err
	}

	if err := r.stageProduct(ctx, target, r.packageArchives); err != nil {
		return err
	}

	for platform, zipPath := range r.nlmZips {
		destination := filepath.Join(r.packageArchives, string(platform), filepath.Base(zipPath))
		if err := os.MkdirAll(filepath.Dir(destination), os.ModePerm); err != nil {
			return fmt.Errorf("create platform directory: %w", err)
		}

		if err := copyFile(zipPath, destination); err != nil {
			return fmt.Errorf("copy license manager archive: %w", err)
		}
	}

	definition, err := r.defineProduct(ctx, target)
	if err != nil {
		return err
	}

	packagePath := filepath.Join(r.packageDestination, definition.PackageName)
	if _, err = os.Stat(packagePath); err == nil {
		logger.InfoKV(ctx, "Skipping package creation.",
			"product", target.Name, "package", packagePath)
	} else if err = r.builder.Build(ctx, r.packageRoot, packagePath); err != nil {
		return err
	}

	packageID, err := r.client.UploadPackage(ctx, packagePath)
	if err != nil {
		return fmt.Errorf("upload package: %w", err)
	}

	definition.PackageID = packageID

	return nil
}

// defineProduct records the product's policy definition in the checkpoint.
// Toolboxes are named under their controlling product and live in the
// toolbox categories.
func (r *runner) defineProduct(ctx context.Context, target *product.Product) (*checkpoint.PolicyDefinition, error) {
	definition := r.record.Ensure(target.Name)

	controlling := ""
	policyCategory := r.labels.category
	anchorCategory := r.labels.categoryAnchor

	if !target.IsControlling() {
		name, err := target.ControllingProduct()
		if err != nil {
			return nil, err
		}

		controlling = name
		policyCategory = r.labels.categoryToolbox
		anchorCategory = r.labels.categoryAnchorToolbox

		logger.InfoKV(ctx, "Product is controlled.",
			"product", target.Name, "controlling", controlling)
	} else {
		logger.InfoKV(ctx, "Product is a controlling product.", "product", target.Name)
	}

	fullName := r.labels.productFullName(target.Name, controlling)

	definition.AnchorCategory = anchorCategory
	definition.AnchorCategoryID = r.categoryIDs[anchorCategory]
	definition.AnchorName = fullName
	definition.AnchorTrigger = anchorTrigger(fullName)
	definition.Dependencies = target.DependencyNames()
	definition.Family = r.labels.family
	definition.IsToolbox = !target.IsControlling()
	definition.LicenseHash = r.licenseHash
	definition.LicenseKey = r.licenseKey
	definition.PackageName = fullName + ".pkg"
	definition.ScopeID = r.groupID
	definition.ScopeName = r.labels.staticGroup
	definition.SelfServiceName = r.labels.selfServiceName(target.Name, controlling)
	definition.SelfServiceCategory = policyCategory
	definition.SelfServiceCategoryID = r.categoryIDs[policyCategory]

	return definition, nil
}
