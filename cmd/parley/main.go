package main

import (
	"log"

	"parley/internal/app"

	"github.com/joho/godotenv"
)

func main() {
	// Best-effort: a missing .env is fine, the environment wins anyway.
	_ = godotenv.Load()

	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
