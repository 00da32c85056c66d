package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/ruteri/sealed-keymaster/cmd/flags"
	"github.com/ruteri/sealed-keymaster/commands"
	"github.com/ruteri/sealed-keymaster/prompt"
	"github.com/ruteri/sealed-keymaster/storage"
	"github.com/urfave/cli/v2"
	"github.com/urfave/cli/v2/altsrc"
)

var KeymasterServiceLogFlag = flags.LogServiceFlagFn("keymaster")

func main() {
	// Settings from .env fill in the KEYMASTER_* variables the flags read.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("failed to load .env: %v", err)
	}

	appFlags := append(append([]cli.Flag{flags.ConfigFlag, KeymasterServiceLogFlag}, flags.KeymasterFlags...), flags.CommonFlags...)

	app := &cli.App{
		Name:      "keymaster",
		Usage:     "Custody a key split among keymasters and use it once a quorum unseals it",
		ArgsUsage: "[command line]",
		Flags:     appFlags,
		Before:    altsrc.InitInputSourceWithContext(appFlags, altsrc.NewYamlSourceFromFlagFunc(flags.ConfigFlag.Name)),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			locations := cCtx.StringSlice(flags.StorageFlag.Name)
			store, err := storage.NewStorageBackendFactory(logger).CreateMultiBackend(locations)
			if err != nil {
				logger.Error("Failed to set up storage", "locations", locations, "err", err)
				return err
			}
			if !store.Available(cCtx.Context) {
				logger.Warn("Shared storage is not reachable", "location", store.LocationURI())
			}

			stdin := bufio.NewReader(os.Stdin)
			prompter := prompt.NewTerminal(int(os.Stdin.Fd()), stdin, os.Stdout)

			dispatcher := commands.NewDispatcher(logger, flags.Identity(cCtx), store, prompter, commands.Config{
				Subject:           flags.Subject(cCtx),
				CertValidityYears: cCtx.Int(flags.CertValidityYearsFlag.Name),
				RSABits:           cCtx.Int(flags.RSABitsFlag.Name),
				Console:           os.Stdout,
			})

			ctx, stop := signal.NotifyContext(cCtx.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if cCtx.Args().Present() {
				msg, err := dispatcher.Execute(ctx, strings.Join(cCtx.Args().Slice(), " "))
				if err != nil {
					return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
				}
				if msg != "" {
					fmt.Println(msg)
				}
				return nil
			}

			err = commands.NewShell(dispatcher, stdin, os.Stdout).Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
