package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/satmint/satmint/mint"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "satmintd",
		Usage: "run the satmint lightning settlement daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env-path",
				Usage: "path to .env file",
			},
			&cli.Uint64Flag{
				Name:  "balance",
				Usage: "starting ledger balance in sats",
			},
		},
		Action: runMint,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runMint(ctx *cli.Context) error {
	envPath := ctx.String("env-path")
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			return errors.New("error loading .env file")
		}
	} else {
		// ignore err. If no .env file to load, use env vars set
		godotenv.Load()
	}

	config := mint.ConfigFromEnv()
	ledger := mint.NewMemoryLedger(ctx.Uint64("balance"))

	mintServer, err := mint.SetupMintServer(config, ledger)
	if err != nil {
		return err
	}

	errChan := make(chan error, 1)
	go func() {
		if err := mintServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case <-sigChan:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return mintServer.Shutdown(shutdownCtx)
}
