package main

import (
	"context"
	"log"

	"github.com/dmitrijs2005/prwatch/internal/config"
	"github.com/dmitrijs2005/prwatch/internal/daemon"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := daemon.NewApp(ctx, cfg)

	if err != nil {
		log.Fatalf("%v", err)
	}

	if err := app.Run(ctx); err != nil {
		log.Fatalf("%v", err)
	}

}
