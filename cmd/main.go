package main

import (
	"github.com/casefront/outbound/internal/app"
	"github.com/casefront/outbound/internal/config"
)

func main() {
	config.MustInit()
	app.MustNewApp().Run()
}
