package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentcore-ai/agentcore/internal/bootstrap"
	"github.com/agentcore-ai/agentcore/internal/logging"
	"github.com/agentcore-ai/agentcore/internal/rpc"
)

// runServe implements the --server boundary mode: build the App and serve
// its RPC Router over HTTP until interrupted. Grounded on
// cmd/opencode/commands/serve.go's boot-then-block shape.
func runServe(port int) error {
	workDir, err := GetWorkDir()
	if err != nil {
		return err
	}

	logging.Logger.Info().Str("directory", workDir).Msg("starting agentcore server")

	app, err := bootstrap.Build(context.Background(), workDir, logging.Logger)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	if model := GetGlobalModel(); model != "" {
		app.Config.Model = model
	}

	httpServer := rpc.NewServer(app.Router)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      httpServer.Mux(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
	}

	go func() {
		logging.Logger.Info().Int("port", port).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// runWeb implements the --web boundary mode: a GUI frontend is explicitly
// out of scope, so this starts the same server as --server and prints a
// notice instead of attempting to launch a browser UI.
func runWeb(port int) error {
	fmt.Fprintln(os.Stderr, "agentcore: --web has no bundled GUI; starting the HTTP API server only.")
	fmt.Fprintf(os.Stderr, "Point a separate web client at http://localhost:%d/rpc\n", port)
	return runServe(port)
}

// runRemoteClient implements the --server-url boundary mode: a thin remote
// client is out of scope for this core (spec Non-goals exclude the
// interactive client surface); this stub does not parse or contact the URL
// and always returns an error reporting that no bundled client exists.
func runRemoteClient(url string) error {
	return fmt.Errorf("agentcore: --server-url %s: no bundled remote client in this build; use the HTTP API directly (see internal/rpc/http.go)", url)
}
