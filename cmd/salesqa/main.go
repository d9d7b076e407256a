package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/salesqa/salesqa/internal/cli"
)

func main() {
	// Values already in the environment win over .env.
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	if err := cli.Execute(context.Background()); err != nil {
		os.Exit(1)
	}
}
