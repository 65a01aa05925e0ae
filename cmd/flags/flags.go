package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/vetkd-custody-backend/api"
	"github.com/ruteri/vetkd-custody-backend/common"
	"github.com/urfave/cli/v2"
	"github.com/urfave/cli/v2/altsrc"
)

const envPrefix = "CUSTODY_"

func envVar(name string) []string {
	return []string{envPrefix + name}
}

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *api.HTTPServerConfig {
	metricsAddr := cCtx.String(MetricsAddrFlag.Name)
	enablePprof := cCtx.Bool(PprofFlag.Name)
	drainDuration := time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second

	return &api.HTTPServerConfig{
		ListenAddr:               listenAddr,
		MetricsAddr:              metricsAddr,
		Log:                      logger,
		EnablePprof:              enablePprof,
		SignatureSkew:            cCtx.Duration(SignatureSkewFlag.Name),
		DrainDuration:            drainDuration,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

// ConfigFileFlag names a YAML file providing defaults for altsrc flags.
var ConfigFileFlag = &cli.StringFlag{
	Name:    "config",
	EnvVars: envVar("CONFIG"),
	Usage:   "YAML file with flag values",
}

// LoadConfigFile is a cli.BeforeFunc applying the --config file to flags.
func LoadConfigFile(flags []cli.Flag) cli.BeforeFunc {
	return func(cCtx *cli.Context) error {
		if cCtx.String(ConfigFileFlag.Name) == "" {
			return nil
		}
		return altsrc.InitInputSourceWithContext(flags, altsrc.NewYamlSourceFromFlagFunc(ConfigFileFlag.Name))(cCtx)
	}
}

var SignatureSkewFlag = altsrc.NewDurationFlag(&cli.DurationFlag{
	Name:    "signature-skew",
	Value:   5 * time.Minute,
	EnvVars: envVar("SIGNATURE_SKEW"),
	Usage:   "maximum clock difference accepted on signed requests",
})

var LogJsonFlag = altsrc.NewBoolFlag(&cli.BoolFlag{
	Name:    "log-json",
	Value:   false,
	EnvVars: envVar("LOG_JSON"),
	Usage:   "log in JSON format",
})
var LogDebugFlag = altsrc.NewBoolFlag(&cli.BoolFlag{
	Name:    "log-debug",
	Value:   false,
	EnvVars: envVar("LOG_DEBUG"),
	Usage:   "log debug messages",
})
var LogUidFlag = altsrc.NewBoolFlag(&cli.BoolFlag{
	Name:    "log-uid",
	Value:   false,
	EnvVars: envVar("LOG_UID"),
	Usage:   "generate a uuid and add to all log messages",
})

var LogServiceFlagFn = func(service string) cli.Flag {
	return altsrc.NewStringFlag(&cli.StringFlag{
		Name:    "log-service",
		Value:   service,
		EnvVars: envVar("LOG_SERVICE"),
		Usage:   "add 'service' tag to logs",
	})
}

var PprofFlag = altsrc.NewBoolFlag(&cli.BoolFlag{
	Name:    "pprof",
	Value:   false,
	EnvVars: envVar("PPROF"),
	Usage:   "enable pprof debug endpoint",
})
var DrainSecondsFlag = altsrc.NewInt64Flag(&cli.Int64Flag{
	Name:    "drain-seconds",
	Value:   45,
	EnvVars: envVar("DRAIN_SECONDS"),
	Usage:   "seconds to wait in drain HTTP request",
})
var MetricsAddrFlag = altsrc.NewStringFlag(&cli.StringFlag{
	Name:    "metrics-addr",
	Value:   "127.0.0.1:8090",
	EnvVars: envVar("METRICS_ADDR"),
	Usage:   "address to listen on for Prometheus metrics",
})

var LogFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
	SignatureSkewFlag,
}
