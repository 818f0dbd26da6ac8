package prestage

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/oshokin/mathworks-packager/internal/logger"
)

// matlabProbe prints the installed product names as a comma-separated list.
const matlabProbe = "v = ver; for k = 1:length(v) fprintf('%s,', v(k).Name); end; quit force"

var (
	quoteExpr        = regexp.MustCompile(`"|'`)
	familyPrefixExpr = regexp.MustCompile(`^r`)
	familySuffixExpr = regexp.MustCompile(`A$`)
)

// stripQuotes removes stray quoting picked up on the way through the
// management server's script parameters.
func stripQuotes(s string) string {
	return strings.TrimSpace(quoteExpr.ReplaceAllString(s, ""))
}

// normalizeFamily repairs the usual typography of a release family label:
// "r2021A" becomes "R2021a".
func normalizeFamily(s string) string {
	s = stripQuotes(s)
	s = familyPrefixExpr.ReplaceAllString(s, "R")

	return familySuffixExpr.ReplaceAllString(s, "a")
}

// dotted turns a human-readable product name into its identifier form.
func dotted(name string) string {
	return strings.ReplaceAll(name, " ", ".")
}

// parseAddons splits the addons parameter. The first entry names the
// controlling product; the rest are toolboxes, deduplicated.
func parseAddons(csv string) (string, map[string]struct{}, error) {
	parts := strings.Split(stripQuotes(csv), ",")

	controlling := strings.TrimSpace(parts[0])
	if controlling == "" {
		return "", nil, errNoAddons
	}

	requested := make(map[string]struct{}, len(parts)-1)

	for _, part := range parts[1:] {
		name := strings.TrimSpace(part)
		if name == "" || strings.EqualFold(name, "None") {
			continue
		}

		requested[name] = struct{}{}
	}

	return controlling, requested, nil
}

// difference returns the requested names not yet installed, sorted.
func difference(requested map[string]struct{}, installed map[string]struct{}) []string {
	remaining := make([]string, 0, len(requested))

	for name := range requested {
		if _, ok := installed[name]; !ok {
			remaining = append(remaining, name)
		}
	}

	sort.Strings(remaining)

	return remaining
}

// sortedList converts a set to a sorted slice.
func sortedList(set map[string]struct{}) []string {
	return difference(set, nil)
}

// installedToolboxes asks the installed controlling product what it already
// has, so extant software is not downloaded again.
func (r *runner) installedToolboxes(ctx context.Context) (map[string]struct{}, error) {
	binary := filepath.Join(r.controllingProductDir(), "bin", "matlab")

	output, err := r.run(ctx, binary,
		"-nojvm", "-nodisplay", "-nosplash", "-batch", matlabProbe)
	if err != nil {
		return nil, fmt.Errorf("query installed toolboxes: %w", err)
	}

	installed := parseProbeOutput(string(output))

	names := sortedList(installed)
	logger.InfoKV(ctx, "Previously-installed toolboxes.",
		"toolboxes", strings.Join(names, ", "))

	return installed, nil
}

// parseProbeOutput extracts product names from the probe's output, skipping
// startup warnings and the controlling product's own entry.
func parseProbeOutput(output string) map[string]struct{} {
	installed := make(map[string]struct{})

	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "Warning") {
			continue
		}

		for _, name := range strings.Split(line, ",") {
			name = strings.TrimSpace(name)
			if name == "" || name == "MATLAB" {
				continue
			}

			installed[name] = struct{}{}
		}
	}

	return installed
}
