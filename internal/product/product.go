package product

import (
	"encoding/xml"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/oshokin/mathworks-packager/internal/archive"
)

// Platform identifies one of the two payload variants shipped in the DMG.
type Platform string

const (
	// PlatformCommon holds architecture-independent payload files.
	PlatformCommon Platform = "common"
	// PlatformMac holds the macOS Intel payload files.
	PlatformMac Platform = "maci64"
)

// Platforms lists every platform a product package must carry, in build order.
func Platforms() []Platform {
	return []Platform{PlatformCommon, PlatformMac}
}

// Data is the parsed productdata_*.xml document for one platform.
type Data struct {
	XMLName       xml.Name          `xml:"productData"`
	Name          string            `xml:"productName"`
	Version       string            `xml:"productVersion"`
	ReleaseFamily string            `xml:"releaseFamily"`
	Controlling   bool              `xml:"isControllingProduct"`
	Required      []RequiredProduct `xml:"requiredProducts>product"`
	DependsOn     dependencyList    `xml:"dependsOn"`
}

// RequiredProduct is a product-level dependency entry.
type RequiredProduct struct {
	Name        string `xml:"productName"`
	Controlling bool   `xml:"isControllingProduct"`
}

// dependencyList collects every <name> descendant regardless of the grouping
// elements the vendor nests them under. Some documents carry <name> as a
// direct child of <dependsOn>, others wrap it in per-component elements.
type dependencyList struct {
	names []string
}

// UnmarshalXML walks the element tree and records each <name> at any depth.
func (l *dependencyList) UnmarshalXML(d *xml.Decoder, _ xml.StartElement) error {
	depth := 1

	for depth > 0 {
		token, err := d.Token()
		if err != nil {
			return err
		}

		switch t := token.(type) {
		case xml.StartElement:
			if t.Name.Local == "name" {
				var name string
				if err = d.DecodeElement(&name, &t); err != nil {
					return err
				}

				if name = strings.TrimSpace(name); name != "" {
					l.names = append(l.names, name)
				}

				continue
			}

			depth++
		case xml.EndElement:
			depth--
		}
	}

	return nil
}

// Names returns the component names in document order.
func (l dependencyList) Names() []string {
	return l.names
}

// PlatformData ties the parsed product document to its location in a platform
// archive along with the resolved component list.
type PlatformData struct {
	// Platform is the payload variant this data describes.
	Platform Platform
	// XMLPath is the archive entry holding the product document. It must be
	// extracted next to the payload files for licensed installs to work.
	XMLPath string
	// Data is the parsed product document.
	Data *Data
	// Components are the payload files this product depends on.
	Components []Component
}

// Product is one installable product (MATLAB, Simulink, or a toolbox) with
// its per-platform definitions discovered from the platform archives.
type Product struct {
	// Name is the human-readable product name from the targets list.
	Name string
	// ByPlatform holds the discovered definition per platform.
	ByPlatform map[Platform]*PlatformData
}

var (
	// ErrProductNotFound is returned when no productdata document matches the product name.
	ErrProductNotFound = errors.New("product definition not found")
	// ErrComponentNotFound is returned when a dependsOn component has no definition document.
	ErrComponentNotFound = errors.New("component definition not found")
	// ErrNoControllingProduct is returned when a toolbox lists no controlling product.
	ErrNoControllingProduct = errors.New("no controlling product in dependencies")
)

// New returns a Product with no platform data discovered yet.
func New(name string) *Product {
	return &Product{
		Name:       name,
		ByPlatform: make(map[Platform]*PlatformData, len(Platforms())),
	}
}

// String implements fmt.Stringer.
func (p *Product) String() string {
	return p.Name
}

// Discover locates and parses the product document and its component
// definitions inside the given platform archive.
func (p *Product) Discover(a *archive.Archive, platform Platform) error {
	data, xmlPath, err := findProductData(a, p.Name, platform)
	if err != nil {
		return err
	}

	components, err := resolveComponents(a, data.DependsOn.Names())
	if err != nil {
		return fmt.Errorf("%s: %w", p.Name, err)
	}

	p.ByPlatform[platform] = &PlatformData{
		Platform:   platform,
		XMLPath:    xmlPath,
		Data:       data,
		Components: components,
	}

	return nil
}

// Common returns the architecture-independent definition, or nil before discovery.
func (p *Product) Common() *PlatformData {
	return p.ByPlatform[PlatformCommon]
}

// Family returns the release family (e.g. "R2021a") from the common document.
func (p *Product) Family() string {
	if c := p.Common(); c != nil {
		return c.Data.ReleaseFamily
	}

	return ""
}

// Version returns the product version from the common document.
func (p *Product) Version() string {
	if c := p.Common(); c != nil {
		return c.Data.Version
	}

	return ""
}

// IsControlling reports whether the product is a controlling product
// (MATLAB, Simulink) rather than a toolbox.
func (p *Product) IsControlling() bool {
	if c := p.Common(); c != nil {
		return c.Data.Controlling
	}

	return false
}

// ControllingProduct returns the controlling product a toolbox belongs to.
func (p *Product) ControllingProduct() (string, error) {
	c := p.Common()
	if c == nil {
		return "", fmt.Errorf("%s: %w", p.Name, ErrProductNotFound)
	}

	for _, required := range c.Data.Required {
		if required.Controlling {
			return required.Name, nil
		}
	}

	return "", fmt.Errorf("%s: %w", p.Name, ErrNoControllingProduct)
}

// DependencyNames returns the names of all required products.
func (p *Product) DependencyNames() []string {
	c := p.Common()
	if c == nil {
		return nil
	}

	names := make([]string, 0, len(c.Data.Required))
	for _, required := range c.Data.Required {
		names = append(names, required.Name)
	}

	return names
}

// findProductData locates the productdata document for the product on the
// given platform and parses it. Vendor naming embeds a numeric revision
// between the underscored product name and the platform suffix.
func findProductData(a *archive.Archive, name string, platform Platform) (*Data, string, error) {
	underscored := regexp.QuoteMeta(strings.ReplaceAll(name, " ", "_"))
	expr := fmt.Sprintf(`.*/productdata_%s\d+_%s\.xml`, underscored, platform)

	candidates, err := a.Find(expr)
	if err != nil {
		return nil, "", err
	}

	for _, entry := range candidates {
		contents, err := a.ReadFile(entry)
		if err != nil {
			return nil, "", err
		}

		var data Data
		if err := xml.Unmarshal(contents, &data); err != nil {
			return nil, "", fmt.Errorf("parse %s: %w", entry, err)
		}

		// Revision digits make the glob ambiguous for products whose names
		// prefix other products, so the document itself decides.
		if data.Name == name {
			return &data, entry, nil
		}
	}

	return nil, "", fmt.Errorf("%s (%s): %w", name, platform, ErrProductNotFound)
}
