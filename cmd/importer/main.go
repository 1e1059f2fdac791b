package main

import (
	"os"

	"github.com/RezaEskandarii/csvimport/cmd/importer/cmd"
	log "github.com/sirupsen/logrus"
)

func main() {
	if err := cmd.RootCmd().Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
