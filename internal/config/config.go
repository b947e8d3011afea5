package config

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/charmstore/giftd/internal/core/application"
	"github.com/charmstore/giftd/internal/core/ports"
	"github.com/charmstore/giftd/internal/infrastructure/blockdaemon"
	badgerdb "github.com/charmstore/giftd/internal/infrastructure/db/badger"
	"github.com/charmstore/giftd/internal/infrastructure/esplora"
	"github.com/charmstore/giftd/internal/infrastructure/feewatcher"
	"github.com/charmstore/giftd/internal/infrastructure/prover"
	"github.com/urfave/cli/v2"
)

type supportedType map[string]struct{}

func (t supportedType) String() string {
	types := make([]string, 0, len(t))
	for tt := range t {
		types = append(types, tt)
	}
	return fmt.Sprintf("%v", types)
}

func (t supportedType) supports(typeStr string) bool {
	_, ok := t[typeStr]
	return ok
}

var supportedNetworks = supportedType{
	"mainnet": {},
	"testnet": {},
	"signet":  {},
	"regtest": {},
}

type Config struct {
	Datadir  string
	Port     uint32
	LogLevel int

	Network           string
	EsploraURLs       []string
	BlockdaemonURL    string
	BlockdaemonAPIKey string

	ProverURL     string
	MockProver    bool
	AppVK         string
	AppBinaryPath string

	PruneHeight   int64
	SatsPerCent   uint64
	PackageVBytes uint64

	ProverTimeout  int64 // seconds
	LookupTimeout  int64
	MempoolTimeout int64
	PollInterval   int64
	FeeRefresh     int64
	DefaultFeeRate float64

	appSvc application.Service
}

func (c *Config) String() string {
	clone := *c
	if clone.BlockdaemonAPIKey != "" {
		clone.BlockdaemonAPIKey = "••••••"
	}
	json, err := json.MarshalIndent(clone, "", "  ")
	if err != nil {
		return fmt.Sprintf("error while marshalling config JSON: %s", err)
	}
	return string(json)
}

var (
	defaultDatadir       = appDataDir("giftd")
	DefaultPort          = 7080
	defaultLogLevel      = 4 // info
	defaultNetwork       = "regtest"
	defaultEsploraURL    = "https://blockstream.info/api"
	defaultSatsPerCent   = 10
	defaultPackageVBytes = 600
	defaultProverTimeout = 600
	defaultLookupTimeout = 10
	defaultMempoolWait   = 120
	defaultPollInterval  = 5
	defaultFeeRefresh    = 60
	defaultFeeRate       = 2.0
)

func env(values ...string) []string {
	envs := make([]string, len(values))

	for i, value := range values {
		envs[i] = fmt.Sprintf("GIFTD_%s", value)
	}

	return envs
}

var (
	Datadir = &cli.StringFlag{
		Usage: "Directory to store data",
		Name:  "datadir", EnvVars: env("DATADIR"),
		Value: defaultDatadir,
	}

	Port = &cli.UintFlag{
		Usage: "Port to listen on",
		Name:  "port", EnvVars: env("PORT"),
		Value: uint(DefaultPort),
	}

	LogLevel = &cli.IntFlag{
		Usage: "Logging level (0-6, where 6 is trace)",
		Name:  "log-level", EnvVars: env("LOG_LEVEL"),
		Value: defaultLogLevel,
	}

	Network = &cli.StringFlag{
		Usage: "Bitcoin network (mainnet, testnet, signet, regtest)",
		Name:  "network", EnvVars: env("NETWORK"),
		Value: defaultNetwork,
	}

	EsploraURLs = &cli.StringSliceFlag{
		Usage: "Esplora base URLs in broadcast-preference order, the first one also serves lookups",
		Name:  "esplora-urls", EnvVars: env("ESPLORA_URLS"),
		Value: cli.NewStringSlice(defaultEsploraURL),
	}

	BlockdaemonURL = &cli.StringFlag{
		Usage: "Blockdaemon-style broadcast endpoint, used as fallback provider when set",
		Name:  "blockdaemon-url", EnvVars: env("BLOCKDAEMON_URL"),
	}

	BlockdaemonAPIKey = &cli.StringFlag{
		Usage: "API key for the blockdaemon-style endpoint",
		Name:  "blockdaemon-api-key", EnvVars: env("BLOCKDAEMON_API_KEY"),
	}

	ProverURL = &cli.StringFlag{
		Usage: "URL of the proving service",
		Name:  "prover-url", EnvVars: env("PROVER_URL"),
	}

	MockProver = &cli.BoolFlag{
		Usage: "Skip proof generation, for local testing against a mock prover",
		Name:  "mock-prover", EnvVars: env("MOCK_PROVER"),
	}

	AppVK = &cli.StringFlag{
		Usage: "Verification key of the gift-card zk-app (64 hex chars)",
		Name:  "app-vk", EnvVars: env("APP_VK"),
	}

	AppBinaryPath = &cli.StringFlag{
		Usage: "Path to the compiled gift-card zk-app binary",
		Name:  "app-binary-path", EnvVars: env("APP_BINARY_PATH"),
	}

	PruneHeight = &cli.Int64Flag{
		Usage: "Height below which the lookup service pruned block data, funding utxos must confirm above it",
		Name:  "prune-height", EnvVars: env("PRUNE_HEIGHT"),
	}

	SatsPerCent = &cli.Uint64Flag{
		Usage: "Conversion rate between card cents and token satoshis",
		Name:  "sats-per-cent", EnvVars: env("SATS_PER_CENT"),
		Value: uint64(defaultSatsPerCent),
	}

	PackageVBytes = &cli.Uint64Flag{
		Usage: "Estimated vsize of the commit+spell package, used for funding headroom",
		Name:  "package-vbytes", EnvVars: env("PACKAGE_VBYTES"),
		Value: uint64(defaultPackageVBytes),
	}

	ProverTimeout = &cli.Int64Flag{
		Usage: "Proof generation timeout (in seconds)",
		Name:  "prover-timeout", EnvVars: env("PROVER_TIMEOUT"),
		Value: int64(defaultProverTimeout),
	}

	LookupTimeout = &cli.Int64Flag{
		Usage: "Chain lookup timeout (in seconds)",
		Name:  "lookup-timeout", EnvVars: env("LOOKUP_TIMEOUT"),
		Value: int64(defaultLookupTimeout),
	}

	MempoolTimeout = &cli.Int64Flag{
		Usage: "How long to wait (in seconds) for the commit tx to appear in the mempool",
		Name:  "mempool-timeout", EnvVars: env("MEMPOOL_TIMEOUT"),
		Value: int64(defaultMempoolWait),
	}

	PollInterval = &cli.Int64Flag{
		Usage: "Mempool polling interval (in seconds)",
		Name:  "poll-interval", EnvVars: env("POLL_INTERVAL"),
		Value: int64(defaultPollInterval),
	}

	FeeRefresh = &cli.Int64Flag{
		Usage: "Fee estimate refresh interval (in seconds)",
		Name:  "fee-refresh", EnvVars: env("FEE_REFRESH"),
		Value: int64(defaultFeeRefresh),
	}

	DefaultFeeRate = &cli.Float64Flag{
		Usage: "Fee rate (sat/vB) served until the first successful estimate refresh",
		Name:  "default-fee-rate", EnvVars: env("DEFAULT_FEE_RATE"),
		Value: defaultFeeRate,
	}
)

func Flags() []cli.Flag {
	return []cli.Flag{
		Datadir,
		Port,
		LogLevel,
		Network,
		EsploraURLs,
		BlockdaemonURL,
		BlockdaemonAPIKey,
		ProverURL,
		MockProver,
		AppVK,
		AppBinaryPath,
		PruneHeight,
		SatsPerCent,
		PackageVBytes,
		ProverTimeout,
		LookupTimeout,
		MempoolTimeout,
		PollInterval,
		FeeRefresh,
		DefaultFeeRate,
	}
}

func LoadConfig(c *cli.Context) (*Config, error) {
	if err := initDatadir(c); err != nil {
		return nil, fmt.Errorf("failed to create datadir: %s", err)
	}

	cfg := &Config{
		Datadir:           c.String(Datadir.Name),
		Port:              uint32(c.Uint(Port.Name)),
		LogLevel:          c.Int(LogLevel.Name),
		Network:           c.String(Network.Name),
		EsploraURLs:       c.StringSlice(EsploraURLs.Name),
		BlockdaemonURL:    c.String(BlockdaemonURL.Name),
		BlockdaemonAPIKey: c.String(BlockdaemonAPIKey.Name),
		ProverURL:         c.String(ProverURL.Name),
		MockProver:        c.Bool(MockProver.Name),
		AppVK:             c.String(AppVK.Name),
		AppBinaryPath:     c.String(AppBinaryPath.Name),
		PruneHeight:       c.Int64(PruneHeight.Name),
		SatsPerCent:       c.Uint64(SatsPerCent.Name),
		PackageVBytes:     c.Uint64(PackageVBytes.Name),
		ProverTimeout:     c.Int64(ProverTimeout.Name),
		LookupTimeout:     c.Int64(LookupTimeout.Name),
		MempoolTimeout:    c.Int64(MempoolTimeout.Name),
		PollInterval:      c.Int64(PollInterval.Name),
		FeeRefresh:        c.Int64(FeeRefresh.Name),
		DefaultFeeRate:    c.Float64(DefaultFeeRate.Name),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if !supportedNetworks.supports(c.Network) {
		return fmt.Errorf(
			"network not supported, please select one of: %s", supportedNetworks,
		)
	}
	if len(c.EsploraURLs) == 0 {
		return fmt.Errorf("at least one esplora url is required")
	}
	if c.ProverURL == "" {
		return fmt.Errorf("prover url is required")
	}
	if !c.MockProver {
		if c.AppVK == "" {
			return fmt.Errorf("app vk is required outside mock mode")
		}
		if c.AppBinaryPath == "" {
			return fmt.Errorf("app binary path is required outside mock mode")
		}
	}
	if c.SatsPerCent == 0 {
		return fmt.Errorf("sats-per-cent must be positive")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	return nil
}

func (c *Config) NetworkParams() *chaincfg.Params {
	switch c.Network {
	case "mainnet":
		return &chaincfg.MainNetParams
	case "testnet":
		return &chaincfg.TestNet3Params
	case "signet":
		return &chaincfg.SigNetParams
	default:
		return &chaincfg.RegressionNetParams
	}
}

// AppService wires the whole dependency graph: chain source, broadcast
// providers, prover, fee watcher and receipt store.
func (c *Config) AppService() (application.Service, error) {
	if c.appSvc != nil {
		return c.appSvc, nil
	}

	lookupTimeout := time.Duration(c.LookupTimeout) * time.Second
	chain := esplora.New(c.EsploraURLs[0], lookupTimeout)

	providers := make([]ports.TxBroadcaster, 0, len(c.EsploraURLs)+1)
	for _, url := range c.EsploraURLs {
		providers = append(providers, esplora.New(url, lookupTimeout))
	}
	if c.BlockdaemonURL != "" {
		providers = append(
			providers, blockdaemon.New(c.BlockdaemonURL, c.BlockdaemonAPIKey, lookupTimeout),
		)
	}

	appBinary := ""
	if !c.MockProver {
		raw, err := os.ReadFile(c.AppBinaryPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read app binary: %s", err)
		}
		appBinary = base64.StdEncoding.EncodeToString(raw)
	}
	proofSvc := prover.New(c.ProverURL)

	feeSource, err := feewatcher.New(
		chain, time.Duration(c.FeeRefresh)*time.Second, c.DefaultFeeRate,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start fee watcher: %s", err)
	}

	repo, err := badgerdb.NewReceiptRepository(filepath.Join(c.Datadir, "db"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open receipt store: %s", err)
	}

	svc, err := application.NewService(
		application.ServiceConfig{
			Network:        c.NetworkParams(),
			AppVK:          c.AppVK,
			AppBinary:      appBinary,
			MockProver:     c.MockProver,
			PruneHeight:    c.PruneHeight,
			SatsPerCent:    c.SatsPerCent,
			PackageVBytes:  c.PackageVBytes,
			ProverTimeout:  time.Duration(c.ProverTimeout) * time.Second,
			LookupTimeout:  lookupTimeout,
			MempoolTimeout: time.Duration(c.MempoolTimeout) * time.Second,
			PollInterval:   time.Duration(c.PollInterval) * time.Second,
		},
		chain, providers, proofSvc, feeSource, repo,
	)
	if err != nil {
		return nil, err
	}

	c.appSvc = svc
	return svc, nil
}

func initDatadir(c *cli.Context) error {
	datadir := c.String(Datadir.Name)
	return makeDirectoryIfNotExists(datadir)
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}

func appDataDir(appName string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "." + appName
	}
	return filepath.Join(home, "."+appName)
}
