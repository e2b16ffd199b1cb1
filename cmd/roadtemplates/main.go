package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/blackroad/roadtemplates/internal/app/runtime"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("roadtemplates: %v", err)
	}
}

func run(ctx context.Context) error {
	application, err := runtime.NewApplication()
	if err != nil {
		return err
	}

	if err := application.Run(ctx); err != nil {
		_ = application.Shutdown(context.Background())
		return err
	}
	return application.Shutdown(context.Background())
}
