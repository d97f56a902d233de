package export

import (
	"fmt"
	"os"
)

// warnf prints a non-fatal diagnostic, the plain stderr-warning idiom used
// throughout this codebase rather than a structured logger.
func warnf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Warning: "+format+"\n", args...)
}
