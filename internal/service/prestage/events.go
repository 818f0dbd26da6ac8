package prestage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/oshokin/mathworks-packager/internal/logger"
)

// Runner executes an external command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// DefaultRunner runs the command for real.
func DefaultRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

const (
	agentBinary = "/usr/local/jamf/bin/jamf"
	logBinary   = "/usr/bin/log"

	// agentSubsystemPredicate selects the management agent's unified log events.
	agentSubsystemPredicate = "process == 'jamf' AND subsystem == 'com.jamf.management.binary'"

	// noPoliciesMarker in agent output means the event matched nothing.
	noPoliciesMarker = "No policies were found"

	// eventAttempts and eventPause bound retries per custom event. The pause
	// keeps the agent binary from being spammed.
	eventAttempts = 3
	eventPause    = 5 * time.Second
)

var errEventFailed = errors.New("custom event failed after all attempts")

// triggerEvent fires a custom event on the management agent, retrying a few
// times before giving up.
func (r *runner) triggerEvent(ctx context.Context, event string) error {
	logger.InfoKV(ctx, "Requesting custom event.", "event", event)

	for attempt := 1; attempt <= eventAttempts; attempt++ {
		if r.fireEvent(ctx, event) {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(eventPause):
		}
	}

	return fmt.Errorf("%s: %w", event, errEventFailed)
}

// fireEvent runs one agent invocation. When the agent itself errors, the
// unified log may still show the package install succeeded, so it gets the
// final word.
func (r *runner) fireEvent(ctx context.Context, event string) bool {
	output, err := r.run(ctx, agentBinary, "policy", "-event", event)
	if err != nil {
		if r.installConfirmedByLog(ctx, event) {
			return true
		}

		logger.ErrorKV(ctx, "Error calling event.", "event", event, "error", err)

		return false
	}

	if strings.Contains(string(output), noPoliciesMarker) {
		logger.InfoKV(ctx, "No policies were found for event.", "event", event)
		return false
	}

	return true
}

// logEvent is the slice element shape of `log show --style JSON` output.
type logEvent struct {
	ProcessImagePath string `json:"processImagePath"`
	EventMessage     string `json:"eventMessage"`
}

// installConfirmedByLog checks the last minute of the agent's unified log
// for a successful install of the package implied by the event name.
func (r *runner) installConfirmedByLog(ctx context.Context, event string) bool {
	pkg := strings.TrimPrefix(event, "@") + ".pkg"
	confirmExpr, err := regexp.Compile("Successfully installed .*" + regexp.QuoteMeta(pkg))
	if err != nil {
		return false
	}

	output, err := r.run(ctx, logBinary,
		"show", "--style", "JSON", "--last", "1m",
		"--predicate", agentSubsystemPredicate)
	if err != nil {
		logger.DebugKV(ctx, "Error pulling logs.", "error", err)
		return false
	}

	var events []logEvent
	if err = json.Unmarshal(output, &events); err != nil {
		logger.DebugKV(ctx, "Cannot parse log output.", "error", err)
		return false
	}

	for _, entry := range events {
		if !strings.Contains(entry.ProcessImagePath, "jamf") {
			continue
		}

		if confirmExpr.MatchString(entry.EventMessage) {
			logger.InfoKV(ctx, "Install confirmed by system log.", "package", pkg)
			return true
		}
	}

	return false
}
