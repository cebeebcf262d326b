package main

import (
	"os"

	"github.com/dsoprea/go-logging"
	"github.com/jessevdk/go-flags"

	"github.com/sbelectronics/ctosdisk"
)

type rootParameters struct {
	ImageFilepath string `short:"i" long:"image-filepath" description:"File-path of CTOS disk image" required:"true"`
	Directory     string `short:"d" long:"directory" description:"Directory name" required:"true"`
	File          string `short:"f" long:"file" description:"File name" required:"true"`
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

	err = vol.Delete(rootArguments.Directory, rootArguments.File)
	log.PanicIf(err)

	err = os.WriteFile(rootArguments.ImageFilepath, vol.Bytes(), 0644)
	log.PanicIf(err)
}
