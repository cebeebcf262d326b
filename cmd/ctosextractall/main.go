package main

import (
	"os"

	"github.com/dsoprea/go-logging"
	"github.com/jessevdk/go-flags"

	"github.com/sbelectronics/ctosdisk"
)

type rootParameters struct {
	ImageFilepath string `short:"i" long:"image-filepath" description:"File-path of CTOS disk image" required:"true"`
	DestDirectory string `short:"o" long:"output-directory" description:"Host directory to extract into" required:"true"`
}

var rootArguments = new(rootParameters)

func main() {
	defer func() {
		if state := recover(); state != nil {
			err := log.Wrap(state.(error))
			log.PrintError(err)
			os.Exit(-1)
		}
	}()

	p := flags.NewParser(rootArguments, flags.Default)

	_, err := p.Parse()
	if err != nil {
		os.Exit(1)
	}

	image, err := os.ReadFile(rootArguments.ImageFilepath)
	log.PanicIf(err)

	vol, err := ctos.Open(image, ctos.NewStderrDiagnostics())
	log.PanicIf(err)

	mkdirAll := func(dir string) error {
		return os.MkdirAll(dir, 0755)
	}

	writeFile := func(path string, data []byte) error {
		return os.WriteFile(path, data, 0644)
	}

	err = vol.ExtractAll(rootArguments.DestDirectory, mkdirAll, writeFile)
	log.PanicIf(err)
}
