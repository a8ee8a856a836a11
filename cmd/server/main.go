// Command server runs the resumable upload server in front of the
// administrative application.
package main

import (
	"context"
	"log"

	"github.com/dmitrijs2005/asyncupload/internal/server"
	"github.com/dmitrijs2005/asyncupload/internal/server/config"
)

func main() {
	cfg := config.LoadConfig()

	app, err := server.NewApp(cfg)
	if err != nil {
		log.Fatalf("asyncupload: %v", err)
	}

	app.Run(context.Background())
}
