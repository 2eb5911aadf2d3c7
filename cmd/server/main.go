package main

import (
	"github.com/pomelo-kg/pomelo/internal/server"
	"github.com/pomelo-kg/pomelo/internal/util"
	"github.com/pomelo-kg/pomelo/pkg/logger"
	"github.com/pomelo-kg/pomelo/pkg/logger/console"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	server.Init()
}
