package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"omnirelay/internal/app"
	"omnirelay/internal/config"
	"omnirelay/internal/model"
	"omnirelay/internal/service"
)

func main() {
	title := flag.String("title", "Demo Exhibit", "service title")
	public := flag.Bool("public", true, "allow guests to join with a public code")
	multi := flag.Bool("multi", false, "allow several hosts at once")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a, err := app.New(ctx, config.Load())
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer a.Close()

	svc, err := a.Identity.CreateService(ctx, &model.ServiceRequest{
		Title:              *title,
		AllowPublicCode:    *public,
		AllowMultipleHosts: *multi,
	})
	if errors.Is(err, service.ErrTitleTaken) {
		log.Fatalf("A service named '%s' already exists", *title)
	}
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}

	fmt.Printf("Successfully created service '%s'\n", svc.Title)
	fmt.Printf("  host token:   %s\n", svc.HostToken)
	fmt.Printf("  client token: %s\n", svc.ClientToken)
}
