package main

import (
	"log"

	"roost/config"
	"roost/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	app := &server.App{}
	app.Initialize(cfg)

	if err := app.Run(); err != nil {
		log.Fatalf("server: %v", err)
	}
}
