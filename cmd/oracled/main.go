package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/ruteri/vetkd-custody-backend/api/oracle"
	"github.com/ruteri/vetkd-custody-backend/api/seedhandler"
	"github.com/ruteri/vetkd-custody-backend/cmd/flags"
	"github.com/ruteri/vetkd-custody-backend/kms"
	"github.com/urfave/cli/v2"
	"google.golang.org/grpc"
)

var (
	listenAddrFlag = &cli.StringFlag{
		Name:    "listen-addr",
		Value:   "127.0.0.1:9090",
		EnvVars: []string{"ORACLED_LISTEN_ADDR"},
		Usage:   "address to listen on for gRPC",
	}
	seedFlag = &cli.StringFlag{
		Name:    "seed",
		EnvVars: []string{"ORACLED_SEED"},
		Usage:   "hex-encoded master seed (at least 32 bytes)",
	}
	keyNameFlag = &cli.StringSliceFlag{
		Name:    "key-name",
		Value:   cli.NewStringSlice(kms.DefaultKeyName),
		EnvVars: []string{"ORACLED_KEY_NAME"},
		Usage:   "vetKD key names to serve",
	}
	seedShareFlag = &cli.StringSliceFlag{
		Name:  "seed-share",
		Usage: "signed seed share as <share-hex>:<signature-hex>, repeat up to the threshold",
	}
	adminPubkeyFlag = &cli.StringSliceFlag{
		Name:  "admin-pubkey",
		Usage: "hex-encoded uncompressed secp256k1 public key of a share holder",
	}
	adminListenAddrFlag = &cli.StringFlag{
		Name:  "admin-listen-addr",
		Usage: "serve the seed share admin API on this address until the seed is recovered",
	}
	thresholdFlag = &cli.IntFlag{
		Name:  "threshold",
		Value: 2,
		Usage: "number of seed shares required to recover the seed",
	}
)

func main() {
	app := &cli.App{
		Name:  "oracled",
		Usage: "Serve the development vetKD key derivation oracle over gRPC",
		Flags: append([]cli.Flag{
			listenAddrFlag,
			seedFlag,
			keyNameFlag,
			seedShareFlag,
			adminPubkeyFlag,
			adminListenAddrFlag,
			thresholdFlag,
			flags.LogServiceFlagFn("vetkd-oracled"),
		}, flags.LogFlags...),
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:  "split-seed",
				Usage: "Split a seed into Shamir shares",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "seed", Required: true, Usage: "hex-encoded seed"},
					&cli.IntFlag{Name: "shares", Value: 3, Usage: "number of shares"},
					thresholdFlag,
				},
				Action: splitSeed,
			},
			{
				Name:  "sign-share",
				Usage: "Sign a seed share with an administrator key",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "share", Required: true, Usage: "hex-encoded share"},
					&cli.StringFlag{Name: "key-file", Required: true, Usage: "file with the hex-encoded secp256k1 private key"},
				},
				Action: signShare,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func serve(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	seed, err := loadSeed(cCtx, logger)
	if err != nil {
		logger.Error("Failed to load seed", "err", err)
		return err
	}

	dev, err := kms.NewDevOracle(seed, cCtx.StringSlice(keyNameFlag.Name)...)
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", cCtx.String(listenAddrFlag.Name))
	if err != nil {
		return fmt.Errorf("could not listen: %w", err)
	}

	srv := grpc.NewServer()
	oracle.RegisterVetKDSystemServer(srv, &oracle.Server{System: dev, Log: logger})

	go func() {
		logger.Info("Starting oracle", "listenAddress", lis.Addr().String(), "keys", cCtx.StringSlice(keyNameFlag.Name))
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error("gRPC server failed", "err", err)
		}
	}()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
	<-exit
	logger.Info("Shutdown signal received")

	srv.GracefulStop()
	logger.Info("Oracle stopped")
	return nil
}

// loadSeed takes the seed directly, or recovers it from signed shares given
// on the command line or submitted to the admin API.
func loadSeed(cCtx *cli.Context, logger *slog.Logger) ([]byte, error) {
	if seedHex := cCtx.String(seedFlag.Name); seedHex != "" {
		return hex.DecodeString(seedHex)
	}

	adminKeys := make([][]byte, 0, len(cCtx.StringSlice(adminPubkeyFlag.Name)))
	for _, k := range cCtx.StringSlice(adminPubkeyFlag.Name) {
		raw, err := hex.DecodeString(strings.TrimPrefix(k, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid admin pubkey: %w", err)
		}
		adminKeys = append(adminKeys, raw)
	}

	recovery, err := kms.NewSeedRecovery(cCtx.Int(thresholdFlag.Name), adminKeys)
	if err != nil {
		return nil, err
	}

	signedShares := cCtx.StringSlice(seedShareFlag.Name)
	if len(signedShares) == 0 {
		adminAddr := cCtx.String(adminListenAddrFlag.Name)
		if adminAddr == "" {
			return nil, errors.New("one of --seed, --seed-share or --admin-listen-addr is required")
		}
		return awaitSeedShares(adminAddr, recovery, logger)
	}

	for i, signed := range signedShares {
		shareHex, sigHex, ok := strings.Cut(signed, ":")
		if !ok {
			return nil, fmt.Errorf("seed share %d: expected <share>:<signature>", i)
		}
		share, err := hex.DecodeString(shareHex)
		if err != nil {
			return nil, fmt.Errorf("seed share %d: %w", i, err)
		}
		sig, err := hex.DecodeString(sigHex)
		if err != nil {
			return nil, fmt.Errorf("seed share %d signature: %w", i, err)
		}
		if err := recovery.SubmitShare(share, sig); err != nil {
			return nil, fmt.Errorf("seed share %d: %w", i, err)
		}
		logger.Info("Accepted seed share", "index", i)
	}

	seed, ok := recovery.Seed()
	if !ok {
		return nil, errors.New("not enough valid seed shares")
	}
	return seed, nil
}

func splitSeed(cCtx *cli.Context) error {
	seed, err := hex.DecodeString(cCtx.String("seed"))
	if err != nil {
		return fmt.Errorf("invalid seed: %w", err)
	}
	shares, err := kms.SplitSeed(seed, cCtx.Int("shares"), cCtx.Int(thresholdFlag.Name))
	if err != nil {
		return err
	}
	for _, share := range shares {
		fmt.Println(hex.EncodeToString(share))
	}
	return nil
}

func signShare(cCtx *cli.Context) error {
	share, err := hex.DecodeString(cCtx.String("share"))
	if err != nil {
		return fmt.Errorf("invalid share: %w", err)
	}
	key, err := crypto.LoadECDSA(cCtx.String("key-file"))
	if err != nil {
		return fmt.Errorf("could not load key: %w", err)
	}
	sig, err := kms.SignSeedShare(share, key)
	if err != nil {
		return err
	}
	fmt.Printf("%x:%x\n", share, sig)
	return nil
}

// awaitSeedShares serves the admin API until administrators have submitted
// enough shares to recover the seed.
func awaitSeedShares(addr string, recovery *kms.SeedRecovery, logger *slog.Logger) ([]byte, error) {
	handler := seedhandler.NewAdminHandler(recovery, logger)

	mux := chi.NewRouter()
	mux.Use(func(next http.Handler) http.Handler {
		return httplogger.LoggingMiddlewareSlog(logger, next)
	})
	handler.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Waiting for seed shares", "listenAddress", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Admin server failed", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	seed, err := handler.WaitForSeed(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	return seed, err
}
