package main

import (
	"log"
	"net/http"

	"redraft/internal/api"
	"redraft/internal/config"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	h := api.NewServer(cfg)
	log.Printf("redraft api listening on %s providers=%q", cfg.APIAddr, cfg.RewriteProviders)
	if err := http.ListenAndServe(cfg.APIAddr, h.Routes()); err != nil {
		log.Fatal(err)
	}
}
