package main

import (
	"os"

	"github.com/astoria-ai/interview-conductor/cmd"

	"github.com/joho/godotenv"
)

func main() {
	// A .env file is optional; environment variables win either way.
	_ = godotenv.Load()

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
