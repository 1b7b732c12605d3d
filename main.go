package main

import (
	"os"
)

func main() {
	if err := New().Execute(); err != nil {
		LogError("%v", err)
		os.Exit(1)
	}
}
