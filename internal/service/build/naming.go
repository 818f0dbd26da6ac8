package build

import (
	"fmt"
	"strings"
)

// labels derives every server-side name for a release family. Nothing here
// is persisted as a constant; the family label from the product XML decides
// all of it.
type labels struct {
	// family is the release family, e.g. "R2021a".
	family string
	// prefix fronts policy, trigger and package names, e.g. "MathWorks.R2021a.".
	prefix string
	// category holds controlling-product self-service policies.
	category string
	// categoryToolbox holds toolbox self-service policies.
	categoryToolbox string
	// categoryAnchor and categoryAnchorToolbox hold the hidden anchor policies.
	categoryAnchor        string
	categoryAnchorToolbox string
	// staticGroup is the advertised static computer group.
	staticGroup string
}

func labelsForFamily(family string) labels {
	prefix := fmt.Sprintf("MathWorks.%s.", family)
	category := fmt.Sprintf("MathWorks %s", family)
	anchor := prefix + "Anchor"

	return labels{
		family:                family,
		prefix:                prefix,
		category:              category,
		categoryToolbox:       category + " Toolboxes",
		categoryAnchor:        anchor,
		categoryAnchorToolbox: anchor + ".Toolboxes",
		staticGroup:           prefix + "Advertised.STG",
	}
}

// dotted turns a human-readable product name into its identifier form.
func dotted(name string) string {
	return strings.ReplaceAll(name, " ", ".")
}

// productFullName is the shared stem for a product's policy, custom trigger
// and package. Toolboxes carry their controlling product's name.
func (l labels) productFullName(name, controlling string) string {
	if controlling != "" {
		return l.prefix + dotted(controlling) + "." + dotted(name)
	}

	return l.prefix + dotted(name)
}

// selfServiceName is the user-visible policy name.
func (l labels) selfServiceName(name, controlling string) string {
	if controlling != "" {
		return fmt.Sprintf("Add %s to %s %s", name, controlling, l.family)
	}

	return fmt.Sprintf("%s %s", name, l.family)
}

// installerStem is the name shared by the installer package and its anchor.
func (l labels) installerStem() string {
	return l.prefix + "Installer"
}

// anchorTrigger is the custom event devices fire to stage a package.
func anchorTrigger(fullName string) string {
	return "@" + fullName
}
