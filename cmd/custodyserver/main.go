package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ruteri/vetkd-custody-backend/api/custodyhandler"
	"github.com/ruteri/vetkd-custody-backend/api/oracle"
	"github.com/ruteri/vetkd-custody-backend/cmd/flags"
	"github.com/ruteri/vetkd-custody-backend/custody"
	"github.com/ruteri/vetkd-custody-backend/events"
	"github.com/ruteri/vetkd-custody-backend/httpserver"
	"github.com/ruteri/vetkd-custody-backend/interfaces"
	"github.com/ruteri/vetkd-custody-backend/kms"
	"github.com/ruteri/vetkd-custody-backend/ratelimiter"
	"github.com/ruteri/vetkd-custody-backend/storage"
	"github.com/urfave/cli/v2"
	"github.com/urfave/cli/v2/altsrc"
)

var (
	listenAddrFlag = altsrc.NewStringFlag(&cli.StringFlag{
		Name:    "listen-addr",
		Value:   "127.0.0.1:8080",
		EnvVars: []string{"CUSTODY_LISTEN_ADDR"},
		Usage:   "address to listen on for API",
	})
	storeFlag = altsrc.NewStringSliceFlag(&cli.StringSliceFlag{
		Name:    "store",
		Value:   cli.NewStringSlice("memory://"),
		EnvVars: []string{"CUSTODY_STORE"},
		Usage:   "encrypted secret store URI, repeat to replicate (memory://, file://, sqlite://, postgres://, redis://, vault://, s3://)",
	})
	oracleFlag = altsrc.NewStringFlag(&cli.StringFlag{
		Name:    "oracle",
		Value:   "local://",
		EnvVars: []string{"CUSTODY_ORACLE"},
		Usage:   "key derivation oracle URI: local:// or grpc://host:port",
	})
	oracleSeedFlag = altsrc.NewStringFlag(&cli.StringFlag{
		Name:    "oracle-seed",
		EnvVars: []string{"CUSTODY_ORACLE_SEED"},
		Usage:   "hex-encoded seed of the local:// oracle (at least 32 bytes)",
	})
	keyNameFlag = altsrc.NewStringFlag(&cli.StringFlag{
		Name:    "key-name",
		Value:   kms.DefaultKeyName,
		EnvVars: []string{"CUSTODY_KEY_NAME"},
		Usage:   "vetKD key name used for all derivations",
	})
	custodyFlag = altsrc.NewBoolFlag(&cli.BoolFlag{
		Name:    "custody",
		Value:   true,
		EnvVars: []string{"CUSTODY_ENABLED"},
		Usage:   "store encrypted secrets; when false every request derives a fresh key",
	})
	maxSecretSizeFlag = altsrc.NewIntFlag(&cli.IntFlag{
		Name:    "max-secret-size",
		Value:   custodyhandler.DefaultMaxSecretSize,
		EnvVars: []string{"CUSTODY_MAX_SECRET_SIZE"},
		Usage:   "maximum size in bytes of a stored encrypted secret",
	})
	rateLimitRPSFlag = altsrc.NewFloat64Flag(&cli.Float64Flag{
		Name:    "rate-limit-rps",
		Value:   0,
		EnvVars: []string{"CUSTODY_RATE_LIMIT_RPS"},
		Usage:   "per-caller request rate on key routes, 0 disables limiting",
	})
	rateLimitBurstFlag = altsrc.NewIntFlag(&cli.IntFlag{
		Name:    "rate-limit-burst",
		Value:   10,
		EnvVars: []string{"CUSTODY_RATE_LIMIT_BURST"},
		Usage:   "per-caller burst on key routes",
	})
	rateLimitAnonRPSFlag = altsrc.NewFloat64Flag(&cli.Float64Flag{
		Name:    "rate-limit-anonymous-rps",
		EnvVars: []string{"CUSTODY_RATE_LIMIT_ANONYMOUS_RPS"},
		Usage:   "per-host request rate of unsigned callers, 0 applies rate-limit-rps",
	})
	rateLimitAnonBurstFlag = altsrc.NewIntFlag(&cli.IntFlag{
		Name:    "rate-limit-anonymous-burst",
		EnvVars: []string{"CUSTODY_RATE_LIMIT_ANONYMOUS_BURST"},
		Usage:   "per-host burst of unsigned callers",
	})
	natsURLFlag = altsrc.NewStringFlag(&cli.StringFlag{
		Name:    "nats-url",
		EnvVars: []string{"CUSTODY_NATS_URL"},
		Usage:   "publish audit events to this NATS server; events are logged when empty",
	})
	natsSubjectFlag = altsrc.NewStringFlag(&cli.StringFlag{
		Name:    "nats-subject",
		Value:   events.DefaultSubjectPrefix,
		EnvVars: []string{"CUSTODY_NATS_SUBJECT"},
		Usage:   "subject prefix of audit events",
	})
	natsCredsFlag = altsrc.NewStringFlag(&cli.StringFlag{
		Name:    "nats-creds",
		EnvVars: []string{"CUSTODY_NATS_CREDS"},
		Usage:   "NATS credentials file",
	})
)

var serviceFlags = []cli.Flag{
	listenAddrFlag,
	storeFlag,
	oracleFlag,
	oracleSeedFlag,
	keyNameFlag,
	custodyFlag,
	maxSecretSizeFlag,
	rateLimitRPSFlag,
	rateLimitBurstFlag,
	rateLimitAnonRPSFlag,
	rateLimitAnonBurstFlag,
	natsURLFlag,
	natsSubjectFlag,
	natsCredsFlag,
	flags.LogServiceFlagFn("vetkd-custody"),
}

func main() {
	allFlags := append(append([]cli.Flag{flags.ConfigFileFlag}, serviceFlags...), flags.CommonFlags...)

	app := &cli.App{
		Name:   "custody-server",
		Usage:  "Serve vetKD asymmetric keys and custody encrypted secrets",
		Flags:  allFlags,
		Before: flags.LoadConfigFile(allFlags),
		Action: runServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runServer(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	oracleURI := cCtx.String(oracleFlag.Name)
	seed, err := decodeSeed(cCtx.String(oracleSeedFlag.Name))
	if err != nil {
		return err
	}
	if seed == nil && strings.HasPrefix(oracleURI, "local://") {
		seed = make([]byte, kms.MinSeedLength)
		if _, err := rand.Read(seed); err != nil {
			return fmt.Errorf("failed to generate oracle seed: %w", err)
		}
		logger.Warn("No oracle-seed given, derived keys will change on restart")
	}

	keyID := interfaces.VetKDKeyID{Curve: interfaces.VetKDCurveBLS12381G2, Name: cCtx.String(keyNameFlag.Name)}
	system, systemCloser, err := oracle.NewSystem(oracleURI, oracle.Options{
		Seed:        seed,
		KeyNames:    []string{keyID.Name},
		DialTimeout: 10 * time.Second,
	})
	if err != nil {
		logger.Error("Failed to set up oracle", "err", err)
		return err
	}
	defer systemCloser.Close()

	oracleClient, err := kms.NewOracleClient(system, keyID)
	if err != nil {
		return err
	}

	custodyEnabled := cCtx.Bool(custodyFlag.Name)
	var store *storage.SecretStore
	if custodyEnabled {
		backend, err := storage.NewDurableMapFactory(logger).CreateReplicatedMap(cCtx.StringSlice(storeFlag.Name))
		if err != nil {
			logger.Error("Failed to set up secret store", "err", err)
			return err
		}
		defer backend.Close()
		store = storage.NewSecretStore(backend, logger)
		logger.Info("Encrypted secret custody enabled", "store", backend.LocationURI())
	} else {
		logger.Info("Encrypted secret custody disabled")
	}

	publisher, publisherCloser, err := setupPublisher(cCtx, logger)
	if err != nil {
		return err
	}
	defer publisherCloser.Close()

	var secretStore interfaces.EncryptedSecretStore
	if store != nil {
		secretStore = store
	}
	svc, err := custody.NewService(custody.Config{Custody: custodyEnabled}, oracleClient, secretStore, publisher, logger)
	if err != nil {
		return err
	}

	limiter := ratelimiter.New(ratelimiter.Config{
		Identity: ratelimiter.Limit{RPS: cCtx.Float64(rateLimitRPSFlag.Name), Burst: cCtx.Int(rateLimitBurstFlag.Name)},
		Anonymous: ratelimiter.Limit{
			RPS:   cCtx.Float64(rateLimitAnonRPSFlag.Name),
			Burst: cCtx.Int(rateLimitAnonBurstFlag.Name),
		},
		IdleTTL: 10 * time.Minute,
	})
	handler := custodyhandler.NewHandler(svc, custodyhandler.Config{
		MaxSecretSize: cCtx.Int(maxSecretSizeFlag.Name),
		RateLimiter:   limiter,
	}, logger)

	cfg := flags.ConfigureServer(cCtx, logger, cCtx.String(listenAddrFlag.Name))
	server, err := httpserver.New(cfg, handler, svc)
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}

	logger.Info("Starting server", "oracle", oracleURI, "key_id", keyID.String())
	server.RunInBackground()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
	<-exit
	logger.Info("Shutdown signal received")

	server.Shutdown()
	logger.Info("Server shutdown complete")
	return nil
}

func decodeSeed(seedHex string) ([]byte, error) {
	if seedHex == "" {
		return nil, nil
	}
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("invalid oracle-seed: %w", err)
	}
	return seed, nil
}

// setupPublisher publishes audit events to NATS when configured and to the
// log otherwise.
func setupPublisher(cCtx *cli.Context, logger *slog.Logger) (events.Publisher, io.Closer, error) {
	natsURL := cCtx.String(natsURLFlag.Name)
	if natsURL == "" {
		return events.NewLogPublisher(logger), closerFunc(func() error { return nil }), nil
	}

	publisher, err := events.NewNATSPublisher(events.NATSConfig{
		URL:             natsURL,
		SubjectPrefix:   cCtx.String(natsSubjectFlag.Name),
		CredentialsFile: cCtx.String(natsCredsFlag.Name),
		Name:            cCtx.String("log-service"),
	}, logger)
	if err != nil {
		logger.Error("Failed to connect to NATS", "err", err)
		return nil, nil, err
	}
	logger.Info("Publishing audit events to NATS", "url", natsURL)
	return publisher, publisher, nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
