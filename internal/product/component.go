package product

import (
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"

	"github.com/oshokin/mathworks-packager/internal/archive"
)

// Component is one payload file a product depends on.
type Component struct {
	// Name is the component name from the product's dependsOn list.
	Name string
	// Path is the payload location relative to archives/<platform>/.
	Path string
	// XMLPath is the archive entry holding the component definition, which
	// must be extracted alongside the payload.
	XMLPath string
}

// componentDoc is the parsed component definition document.
type componentDoc struct {
	Component struct {
		Name     string `xml:"componentName"`
		FileName string `xml:"componentFileName"`
	} `xml:"component"`
}

// resolveComponents finds each named component's definition document in the
// archive and extracts its payload path.
func resolveComponents(a *archive.Archive, names []string) ([]Component, error) {
	components := make([]Component, 0, len(names))

	for _, name := range names {
		component, err := resolveComponent(a, name)
		if err != nil {
			return nil, err
		}

		components = append(components, component)
	}

	return components, nil
}

// resolveComponent locates the definition document whose componentName
// matches. Several revisions may sit side by side in the archive.
func resolveComponent(a *archive.Archive, name string) (Component, error) {
	underscored := regexp.QuoteMeta(strings.ReplaceAll(name, " ", "_"))
	expr := fmt.Sprintf(`.*%s_\d+\.xml`, underscored)

	candidates, err := a.Find(expr)
	if err != nil {
		return Component{}, err
	}

	for _, entry := range candidates {
		contents, err := a.ReadFile(entry)
		if err != nil {
			return Component{}, err
		}

		var doc componentDoc
		if err := xml.Unmarshal(contents, &doc); err != nil {
			return Component{}, fmt.Errorf("parse %s: %w", entry, err)
		}

		if doc.Component.Name != name {
			continue
		}

		return Component{
			Name:    name,
			Path:    doc.Component.FileName,
			XMLPath: entry,
		}, nil
	}

	return Component{}, fmt.Errorf("%s: %w", name, ErrComponentNotFound)
}
