package rootbox

import (
	"fmt"
	"io"
)

func runPurge(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := newFlagSet("purge", "[--yes] <cacheDir>", stderr)
	yes := fs.BoolP("yes", "y", false, "Do not ask for confirmation")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errUsage
	}

	cache := NewLocalCache(fs.Arg(0))
	fmt.Fprintln(stdout, colWarn.Sprintf("Deleting cached sandboxes at %s.", cache.Dir))
	if !*yes && !askForConfirmation(stdin, colArrow, "Are you sure you want to proceed?") {
		fmt.Fprintln(stdout, colSuccess.Sprintf("Purge canceled."))
		return nil
	}

	n, err := cache.Purge()
	if err != nil {
		return fmt.Errorf("failed to purge cache: %w", err)
	}
	clearFailureLog(fs.Arg(0))
	fmt.Fprintln(stdout, colSuccess.Sprintf("Removed %d cached sandbox archive(s).", n))
	return nil
}
