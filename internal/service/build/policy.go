package build

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/oshokin/mathworks-packager/internal/checkpoint"
	"github.com/oshokin/mathworks-packager/internal/logger"
	"github.com/oshokin/mathworks-packager/internal/mdm"
)

var errPolicyVanished = errors.New("policy missing after save")

// createPolicies runs the policy creation phase over the checkpoint: the
// installer anchor, per-product anchor and self-service policies, and the
// combined "Install All" policy. Failures log and move on.
func (r *runner) createPolicies(ctx context.Context) {
	logger.Info(ctx, "Package creation phase complete. Processing policy definitions...")

	if installer, ok := r.record.Products[installerEntryName]; ok {
		id, err := r.createAnchorPolicy(ctx, installerEntryName, installer)
		if err != nil {
			logger.ErrorKV(ctx, "Cannot create installer anchor policy", "error", err)
		} else {
			installer.AnchorID = id
		}
	}

	// Every product must be accounted for before dependencies resolve, so
	// policies get their own loop after packaging.
	for _, target := range r.targets {
		definition, ok := r.record.Products[target.Name]
		if !ok || definition.PackageID == "" {
			logger.WarnKV(ctx, "No uploaded package, skipping policies.", "product", target.Name)
			continue
		}

		if err := r.createProductPolicies(ctx, target.Name, definition); err != nil {
			logger.ErrorKV(ctx, "Policy creation failed, skipping further processing.",
				"product", target.Name, "error", err)
		}
	}

	r.createInstallAllPolicy(ctx)
}

// createProductPolicies creates the anchor and self-service policies for one
// product.
func (r *runner) createProductPolicies(ctx context.Context, name string, definition *checkpoint.PolicyDefinition) error {
	logger.InfoKV(ctx, "Dependencies",
		"product", name, "dependencies", strings.Join(definition.Dependencies, ", "))

	anchorID, err := r.createAnchorPolicy(ctx, name, definition)
	if err != nil {
		return fmt.Errorf("anchor policy: %w", err)
	}

	definition.AnchorID = anchorID

	logger.InfoKV(ctx, "Policy successfully created.",
		"product", name, "policy", definition.AnchorName, "id", anchorID)

	selfServiceID, err := r.createSelfServicePolicy(ctx, name, definition)
	if err != nil {
		return fmt.Errorf("self service policy: %w", err)
	}

	definition.SelfServiceID = selfServiceID

	logger.InfoKV(ctx, "Policy successfully created.",
		"product", name, "policy", definition.SelfServiceName, "id", selfServiceID)

	return nil
}

// createInstallAllPolicy publishes the combined self-service policy covering
// every targeted product.
func (r *runner) createInstallAllPolicy(ctx context.Context) {
	all := r.record.Ensure(installAllEntryName)

	dependencies := make([]string, 0, len(r.targets))
	for _, target := range r.targets {
		dependencies = append(dependencies, target.Name)
	}

	all.Dependencies = dependencies
	all.Family = r.labels.family
	all.IsToolbox = false
	all.LicenseHash = r.licenseHash
	all.LicenseKey = r.licenseKey
	all.ScopeID = r.groupID
	all.ScopeName = r.labels.staticGroup
	all.SelfServiceName = fmt.Sprintf("MATLAB %s and All Toolboxes", r.labels.family)
	all.SelfServiceCategory = r.labels.category
	all.SelfServiceCategoryID = r.categoryIDs[r.labels.category]

	id, err := r.createSelfServicePolicy(ctx, installAllEntryName, all)
	if err != nil {
		logger.ErrorKV(ctx, "Cannot create combined self service policy", "error", err)
		return
	}

	all.SelfServiceID = id

	logger.InfoKV(ctx, "Policy successfully created.",
		"policy", all.SelfServiceName, "id", id)
}

// createAnchorPolicy creates or updates the hidden custom-trigger policy that
// stages a product's package.
func (r *runner) createAnchorPolicy(ctx context.Context, name string, definition *checkpoint.PolicyDefinition) (string, error) {
	logger.InfoKV(ctx, "Attempting to create anchor policy.", "product", name)

	policy, err := r.loadOrTemplate(ctx, definition.AnchorName, mdm.AnchorPolicyTemplate)
	if err != nil {
		return "", err
	}

	policy.SetAnchorName(definition.AnchorName)
	policy.General.TriggerOther = definition.AnchorTrigger
	policy.General.Category = mdm.Resource{
		ID:   definition.AnchorCategoryID,
		Name: definition.AnchorCategory,
	}
	policy.SetPackage(definition.PackageID, definition.PackageName)

	return r.savePolicy(ctx, policy, definition.AnchorName)
}

// createSelfServicePolicy creates or updates the user-visible policy that
// runs the prestage script and collects the product's dependency chain.
func (r *runner) createSelfServicePolicy(ctx context.Context, name string, definition *checkpoint.PolicyDefinition) (string, error) {
	logger.InfoKV(ctx, "Attempting to create self service policy.", "product", name)

	template := mdm.SelfServicePolicyTemplate
	if definition.IsToolbox {
		template = mdm.ToolboxSelfServicePolicyTemplate
	}

	policy, err := r.loadOrTemplate(ctx, definition.SelfServiceName, template)
	if err != nil {
		return "", err
	}

	policy.SetSelfServiceName(definition.SelfServiceName)
	policy.SetCategory(definition.SelfServiceCategoryID, definition.SelfServiceCategory)
	policy.SetScope(definition.ScopeID, definition.ScopeName)

	dependencies := dependencyCSV(name, definition.Dependencies)
	if err = policy.SetScriptParameters(
		definition.Family, definition.LicenseKey, definition.LicenseHash, dependencies); err != nil {
		return "", err
	}

	return r.savePolicy(ctx, policy, definition.SelfServiceName)
}

// loadOrTemplate fetches an existing policy by name or starts from the
// embedded template when none exists yet.
func (r *runner) loadOrTemplate(ctx context.Context, name, template string) (*mdm.Policy, error) {
	id, err := r.client.PolicyID(ctx, name)
	if err != nil {
		return nil, err
	}

	if id == mdm.MissingID {
		logger.WarnKV(ctx, "Policy does not exist. Creating from template.", "policy", name)
		return mdm.LoadPolicyTemplate(template)
	}

	logger.WarnKV(ctx, "Policy exists, updating.", "policy", name, "id", id)

	return r.client.GetPolicy(ctx, id)
}

// savePolicy writes the policy and confirms the server kept it.
func (r *runner) savePolicy(ctx context.Context, policy *mdm.Policy, name string) (string, error) {
	if _, err := r.client.SavePolicy(ctx, policy); err != nil {
		return "", err
	}

	id, err := r.client.PolicyID(ctx, name)
	if err != nil {
		return "", err
	}

	if id == mdm.MissingID {
		return "", fmt.Errorf("%q: %w", name, errPolicyVanished)
	}

	return id, nil
}

// dependencyCSV renders the prestage dependency parameter. The product
// itself rides after its controlling product so devices install it last in
// its chain; the combined policy already names every product.
func dependencyCSV(productName string, dependencies []string) string {
	names := slices.Clone(dependencies)

	if productName != installAllEntryName && !slices.Contains(names, productName) {
		if len(names) == 0 {
			names = []string{productName}
		} else {
			names = slices.Insert(names, 1, productName)
		}
	}

	if len(names) == 0 {
		names = []string{"MATLAB"}
	}

	return strings.Join(names, ",")
}
