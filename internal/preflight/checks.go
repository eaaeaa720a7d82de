package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"newscast/internal/config"
	"newscast/internal/ledger"
	"newscast/internal/stage"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckCredentials reports vendor credentials the configured pipeline needs
// but does not have.
func CheckCredentials(cfg *config.Config) Result {
	const name = "Credentials"
	missing := cfg.MissingCredentials()
	if len(missing) == 0 {
		return Result{Name: name, Passed: true, Detail: "all present"}
	}
	return Result{Name: name, Detail: "missing " + strings.Join(missing, ", ")}
}

// CheckLedger verifies the ledger database answers queries.
func CheckLedger(ctx context.Context, store *ledger.Store) Result {
	const name = "Ledger"
	checkCtx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	if err := store.Ping(checkCtx); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", store.Path(), err)}
	}
	return Result{Name: name, Passed: true, Detail: store.Path()}
}

// CheckExecutors runs every executor health check in pipeline order with a
// single shared timeout.
func CheckExecutors(ctx context.Context, executors stage.Set) []Result {
	checkCtx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	var results []Result
	for _, h := range executors.Health(checkCtx) {
		detail := h.Detail
		switch {
		case h.Ready && detail == "":
			detail = "ready"
		case !h.Ready && checkCtx.Err() != nil:
			detail = summarizeHealthError(checkCtx.Err())
		}
		results = append(results, Result{Name: "Stage " + h.Name, Passed: h.Ready, Detail: detail})
	}
	return results
}

// summarizeHealthError produces a human-readable summary for health check failures.
func summarizeHealthError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out (API unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (API unreachable)"
	}
	return err.Error()
}
