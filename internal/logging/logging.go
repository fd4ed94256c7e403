package logging

import (
	"log"
	"os"
)

func New() *log.Logger {
	return log.New(os.Stdout, "statpulse ", log.LstdFlags|log.LUTC)
}
