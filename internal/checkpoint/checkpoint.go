package checkpoint

import "time"

// SchemaVersion is bumped whenever the checkpoint layout changes shape.
const SchemaVersion = 1

// PolicyDefinition records everything needed to create or update the
// management-server policies for one product: the uploaded package, the
// anchor policy fired by its custom trigger, and the user-facing
// self-service policy.
type PolicyDefinition struct {
	// AnchorCategory and AnchorCategoryID place the anchor policy.
	AnchorCategory   string `json:"anchor_category"`
	AnchorCategoryID string `json:"anchor_category_id"`
	// AnchorID is filled once the anchor policy exists on the server.
	AnchorID string `json:"anchor_id,omitempty"`
	// AnchorName doubles as the package stem and the custom trigger base.
	AnchorName string `json:"anchor_name"`
	// AnchorTrigger is the custom event devices fire to stage the package.
	AnchorTrigger string `json:"anchor_trigger"`
	// Dependencies lists required product names, controlling product first.
	Dependencies []string `json:"dependencies"`
	// Family is the release family label (e.g. "R2021a").
	Family string `json:"family,omitempty"`
	// IsToolbox selects the toolbox self-service template.
	IsToolbox bool `json:"is_toolbox"`
	// LicenseHash and LicenseKey feed the prestage script parameters.
	LicenseHash string `json:"license_hash,omitempty"`
	LicenseKey  string `json:"license_key,omitempty"`
	// PackageID and PackageName identify the uploaded package.
	PackageID   string `json:"package_id,omitempty"`
	PackageName string `json:"package_name,omitempty"`
	// ScopeID and ScopeName target the advertised static group.
	ScopeID   string `json:"scope_id"`
	ScopeName string `json:"scope_name"`
	// SelfService* describe the user-visible policy; empty for anchor-only
	// entries such as the installer itself.
	SelfServiceName       string `json:"self_service_name,omitempty"`
	SelfServiceCategory   string `json:"self_service_category,omitempty"`
	SelfServiceCategoryID string `json:"self_service_category_id,omitempty"`
	SelfServiceID         string `json:"self_service_id,omitempty"`
}

// Checkpoint is the versioned run record written to the work folder. A later
// run with --skip resumes policy creation from it without reprocessing the
// disk image.
type Checkpoint struct {
	// SchemaVersion guards against loading records from incompatible tools.
	SchemaVersion int `json:"schema_version"`
	// Family is the release family the run targeted.
	Family string `json:"family,omitempty"`
	// UpdatedAt is the time of the last save.
	UpdatedAt time.Time `json:"updated_at"`
	// Products maps product names (plus the "Installer" and "Install All"
	// pseudo-entries) to their policy definitions.
	Products map[string]*PolicyDefinition `json:"products"`
}

// New returns an empty checkpoint at the current schema version.
func New() *Checkpoint {
	return &Checkpoint{
		SchemaVersion: SchemaVersion,
		Products:      make(map[string]*PolicyDefinition),
	}
}

// Ensure returns the definition for the named product, creating it if absent.
func (c *Checkpoint) Ensure(name string) *PolicyDefinition {
	if c.Products == nil {
		c.Products = make(map[string]*PolicyDefinition)
	}

	if definition, ok := c.Products[name]; ok {
		return definition
	}

	definition := new(PolicyDefinition)
	c.Products[name] = definition

	return definition
}
