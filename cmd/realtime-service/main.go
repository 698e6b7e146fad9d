package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mindcare/realtime-service/internal/bootstrap"
	"github.com/mindcare/realtime-service/pkg/contextkeys"
)

func main() {
	ctx := context.WithValue(context.Background(), contextkeys.RequestIDKey, "app-main")

	app, cleanup, err := bootstrap.InitializeApp(ctx)
	if err != nil {
		// The application logger is not available yet.
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Application run failed: %v\n", err)
		cleanup()
		os.Exit(1)
	}
	cleanup()
	fmt.Println("Application exited gracefully.")
}
