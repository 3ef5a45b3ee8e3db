//go:build pbddebug

package activeview

import "fmt"

// contractf panics: debug builds treat invalid offsets as programming errors.
func contractf(format string, args ...any) {
	panic(fmt.Sprintf("activeview: "+format, args...))
}
