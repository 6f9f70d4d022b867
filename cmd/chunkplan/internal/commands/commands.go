package commands

import (
	"io"
	"net/http"
	"os"
	"time"

	"github.com/wolfeidau/chunkplan/internal/config"
	"github.com/wolfeidau/chunkplan/internal/logger"
)

type Globals struct {
	Debug   bool
	Version string
	// Config is the path of the project file.
	Config string
	// Stdout receives command output, os.Stdout when nil.
	Stdout io.Writer
}

func (g *Globals) stdout() io.Writer {
	if g.Stdout == nil {
		return os.Stdout
	}
	return g.Stdout
}

// setup installs the process logger and loads the project file.
func (g *Globals) setup() (*config.Config, error) {
	logger.SetGlobal(logger.Setup(g.Debug))
	return config.Load(g.Config)
}

func configureHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       5 * time.Minute,
		MaxHeaderBytes:    8 * 1024, // 8KiB
	}
}
