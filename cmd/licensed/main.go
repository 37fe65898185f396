package main

import (
	"context"
	"log"

	"github.com/MrSnakeDoc/licensed/internal/app"
)

func main() {
	a, err := app.New(context.Background())
	if err != nil {
		log.Fatalf("licensed failed to start: %v", err)
	}
	if err := a.Run(); err != nil {
		log.Fatalf("licensed stopped with error: %v", err)
	}
}
