//go:build !linux

package main

import "os"

func isTerminal(fd uintptr) bool {
	st, err := os.NewFile(fd, "").Stat()
	if err != nil {
		return false
	}
	return st.Mode()&os.ModeCharDevice != 0
}
