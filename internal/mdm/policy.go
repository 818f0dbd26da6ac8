package mdm

import (
	"embed"
	"encoding/xml"
	"fmt"
)

//go:embed templates/*.xml
var templatesFS embed.FS

// Template names for LoadPolicyTemplate.
const (
	AnchorPolicyTemplate             = "anchor_policy.xml"
	SelfServicePolicyTemplate        = "self_service_policy.xml"
	ToolboxSelfServicePolicyTemplate = "toolbox_self_service_policy.xml"
)

// PrestageScriptName is the name of the server-side script the self
// service policies run before installing. Policy templates reference it
// and the scope wiring fills in its parameters.
const PrestageScriptName = "MatLab.Prestage"

// Resource is an id/name pair as the API represents nested objects.
type Resource struct {
	ID   string `xml:"id,omitempty"`
	Name string `xml:"name"`
}

// PolicyGeneral is the general section of a policy document.
type PolicyGeneral struct {
	ID           string   `xml:"id,omitempty"`
	Name         string   `xml:"name"`
	Enabled      bool     `xml:"enabled"`
	TriggerOther string   `xml:"trigger_other,omitempty"`
	Frequency    string   `xml:"frequency,omitempty"`
	Category     Resource `xml:"category"`
}

// PolicyScope restricts a policy to groups of machines.
type PolicyScope struct {
	AllComputers   bool       `xml:"all_computers"`
	ComputerGroups []Resource `xml:"computer_groups>computer_group"`
}

// PolicyPackage is a package reference with its install action.
type PolicyPackage struct {
	ID     string `xml:"id,omitempty"`
	Name   string `xml:"name"`
	Action string `xml:"action,omitempty"`
}

// PolicyScript is a script reference with its positional parameters.
// Parameters 4 through 7 carry the release family, installation key,
// license hash and dependency list.
type PolicyScript struct {
	ID         string `xml:"id,omitempty"`
	Name       string `xml:"name"`
	Priority   string `xml:"priority,omitempty"`
	Parameter4 string `xml:"parameter4"`
	Parameter5 string `xml:"parameter5"`
	Parameter6 string `xml:"parameter6"`
	Parameter7 string `xml:"parameter7"`
}

// PolicySelfService is the self service section of a policy document.
type PolicySelfService struct {
	UseForSelfService   bool       `xml:"use_for_self_service"`
	DisplayName         string     `xml:"self_service_display_name,omitempty"`
	NotificationSubject string     `xml:"notification_subject,omitempty"`
	Categories          []Resource `xml:"self_service_categories>category"`
}

// Policy is the policy document exchanged with the management API.
type Policy struct {
	XMLName              xml.Name          `xml:"policy"`
	General              PolicyGeneral     `xml:"general"`
	Scope                PolicyScope       `xml:"scope"`
	PackageConfiguration struct {
		Packages []PolicyPackage `xml:"packages>package"`
	} `xml:"package_configuration"`
	Scripts     []PolicyScript    `xml:"scripts>script"`
	SelfService PolicySelfService `xml:"self_service"`
}

// LoadPolicyTemplate parses one of the embedded policy templates.
func LoadPolicyTemplate(name string) (*Policy, error) {
	raw, err := templatesFS.ReadFile("templates/" + name)
	if err != nil {
		return nil, fmt.Errorf("read policy template %q: %w", name, err)
	}

	var policy Policy
	if err = xml.Unmarshal(raw, &policy); err != nil {
		return nil, fmt.Errorf("parse policy template %q: %w", name, err)
	}

	return &policy, nil
}

// Marshal renders the policy as an XML document for upload.
func (p *Policy) Marshal() ([]byte, error) {
	raw, err := xml.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal policy %q: %w", p.General.Name, err)
	}

	return raw, nil
}

// SetCategory points both the general and self service categories at the
// same category resource.
func (p *Policy) SetCategory(id, name string) {
	p.General.Category = Resource{ID: id, Name: name}

	if len(p.SelfService.Categories) == 0 {
		p.SelfService.Categories = []Resource{{ID: id, Name: name}}
		return
	}

	for i := range p.SelfService.Categories {
		p.SelfService.Categories[i] = Resource{ID: id, Name: name}
	}
}

// SetPackage replaces the policy's package list with a single package.
func (p *Policy) SetPackage(id, name string) {
	p.PackageConfiguration.Packages = []PolicyPackage{{
		ID:     id,
		Name:   name,
		Action: "Install",
	}}
}

// SetScope replaces the policy's computer group scope with a single group.
func (p *Policy) SetScope(id, name string) {
	p.Scope.ComputerGroups = []Resource{{ID: id, Name: name}}
}

// SetAnchorName names an anchor policy: the general name doubles as the
// notification subject.
func (p *Policy) SetAnchorName(name string) {
	p.General.Name = name
	p.SelfService.NotificationSubject = name
}

// SetSelfServiceName names a self service policy: the general name, the
// notification subject and the display name all carry it.
func (p *Policy) SetSelfServiceName(name string) {
	p.General.Name = name
	p.SelfService.NotificationSubject = name
	p.SelfService.DisplayName = name
}

// SetScriptParameters fills the positional parameters of the prestage
// script. The policy must carry a script named PrestageScriptName.
func (p *Policy) SetScriptParameters(family, installationKey, licenseHash, dependencies string) error {
	for i := range p.Scripts {
		if p.Scripts[i].Name != PrestageScriptName {
			continue
		}

		p.Scripts[i].Parameter4 = family
		p.Scripts[i].Parameter5 = installationKey
		p.Scripts[i].Parameter6 = licenseHash
		p.Scripts[i].Parameter7 = dependencies

		return nil
	}

	return fmt.Errorf("policy %q: %w", p.General.Name, ErrNoPrestageScript)
}

// Category is the category document exchanged with the management API.
type Category struct {
	XMLName  xml.Name `xml:"category"`
	ID       string   `xml:"id,omitempty"`
	Name     string   `xml:"name"`
	Priority int      `xml:"priority"`
}

// ComputerGroup is the computer group document exchanged with the
// management API. Advertised groups are always static.
type ComputerGroup struct {
	XMLName xml.Name `xml:"computer_group"`
	ID      string   `xml:"id,omitempty"`
	Name    string   `xml:"name"`
	IsSmart bool     `xml:"is_smart"`
}
