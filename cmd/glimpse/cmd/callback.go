package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	httputil "github.com/soapboxsocial/glimpse/pkg/http"
	"github.com/soapboxsocial/glimpse/pkg/login"
	"github.com/soapboxsocial/glimpse/pkg/sessions"
)

var callback = &cobra.Command{
	Use:   "callback",
	Short: "serve the magic link login routes",
	RunE:  runCallback,
}

func runCallback(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	defer a.Close()

	if a.rdb == nil {
		return errors.New("the login routes keep their state in redis, configure a redis host")
	}

	port := config.Login.Addr.Port
	if port == 0 {
		port = 8080
	}

	addr := fmt.Sprintf("%s:%d", config.Login.Addr.Host, port)

	callbackURL := config.Login.Callback
	if callbackURL == "" {
		callbackURL = fmt.Sprintf("http://localhost:%d/callback", port)
	}

	cancel := a.store.Subscribe(func(t sessions.Transition) {
		log.Info().Str("from", t.From.State.String()).Str("to", t.To.State.String()).Msg("session changed")
	})
	defer cancel()

	endpoint := login.NewEndpoint(a.auth, login.NewStateManager(a.rdb), a.store, a.tracker, callbackURL)

	server := &http.Server{
		Addr:              addr,
		Handler:           httputil.Wrap(endpoint.Router(), config.Login.Origins...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()

		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = server.Shutdown(shutdown)
	}()

	log.Info().Str("addr", addr).Str("callback", callbackURL).Msg("serving login routes")

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "failed to serve")
	}

	return nil
}
