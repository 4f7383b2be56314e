package main

import (
	"github.com/BioHazard786/warpcall/cmd"
	"github.com/BioHazard786/warpcall/internal/logging"
)

func main() {
	logging.Init()
	cmd.Execute()
}
