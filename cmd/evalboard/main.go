package main

import (
	"evalboard/cmd/handlers"
	"evalboard/internal/logger"
)

func main() {
	logger.Init() // Initialize the logger
	handlers.Execute()
}
