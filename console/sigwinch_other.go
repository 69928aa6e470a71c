//go:build !linux

package console

import "os"

// HandleSIGWINCH is a no-op off Linux. Console attach requires Linux.
func HandleSIGWINCH(_ *os.File, _ *os.File) func() {
	return func() {}
}
