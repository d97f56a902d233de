package importpkg

import (
	"fmt"
	"os"
)

// warnf prints a non-fatal diagnostic, the same plain stderr-warning
// idiom internal/export uses rather than a structured logger.
func warnf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Warning: "+format+"\n", args...)
}
