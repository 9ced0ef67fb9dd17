package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/zeusync/qcserver/internal/injector"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration")
	envFile := flag.String("env", ".env", "dotenv file with QC_* overrides")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "Error loading env file:", err)
		os.Exit(1)
	}

	srv, cleanup, err := injector.InitializeServer(injector.ConfigPath(*configPath))
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error starting server:", err)
		os.Exit(1)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Server stopped:", err)
		cleanup()
		os.Exit(1)
	}
}
