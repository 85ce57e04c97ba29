package main

import (
	"context"
	"fmt"
	"os"

	"unit_economics/pkg/core/logging"
	"unit_economics/pkg/core/store"
)

func main() {
	err := rootCmd.ExecuteContext(context.Background())
	store.Close()
	logging.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
