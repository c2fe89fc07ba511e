package commands

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/term"

	"github.com/kettlefi/kettle/internal/actions"
	"github.com/kettlefi/kettle/internal/chain"
	"github.com/kettlefi/kettle/internal/config"
	"github.com/kettlefi/kettle/internal/logging"
	"github.com/kettlefi/kettle/internal/metrics"
	"github.com/kettlefi/kettle/internal/signing"
	"github.com/kettlefi/kettle/internal/validation"
)

// mockKettleAddress is the settlement contract of the in-memory chain when
// the configuration names none
var mockKettleAddress = common.HexToAddress("0x00000000000000000000000000000000006b6574")

// loadConfig reads the configuration and applies the logging section
func loadConfig() (*config.Config, error) {
	path := ConfigPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := logging.Configure(os.Stderr, cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, err
	}
	return cfg, nil
}

// deployment returns the chain id and settlement address commands hash
// against, without touching the network
func deployment(cfg *config.Config) (*big.Int, common.Address, error) {
	if cfg.Chain.KettleAddress != "" {
		return big.NewInt(cfg.Chain.ChainID), common.HexToAddress(cfg.Chain.KettleAddress), nil
	}
	if UseMock {
		return big.NewInt(cfg.Chain.ChainID), mockKettleAddress, nil
	}
	return nil, common.Address{}, fmt.Errorf("kettle_address is required (set chain.kettle_address or %s)", config.EnvKettleAddress)
}

// env is a connected session: chain client, contracts and metrics
type env struct {
	cfg       *config.Config
	client    *chain.Client
	mock      *chain.MockChain
	kettle    common.Address
	multicall common.Address
	metrics   *metrics.Collector
	server    *metrics.Server
}

// openEnv connects to the configured chain, or to a fresh in-memory chain
// with --mock. withSigner binds the configured account.
func openEnv(ctx context.Context, cfg *config.Config, withSigner bool) (*env, error) {
	if !UseMock {
		if err := cfg.RequireChain(); err != nil {
			return nil, err
		}
	}
	_, kettle, err := deployment(cfg)
	if err != nil {
		return nil, err
	}

	var signer signing.Signer
	if withSigner {
		s, err := loadSigner(cfg)
		if err != nil {
			return nil, err
		}
		signer = s
	}

	clientCfg := chain.DefaultClientConfig()
	clientCfg.ChainID = cfg.Chain.ChainID
	clientCfg.RPCURLs = cfg.Chain.ResolvedRPCURLs()
	clientCfg.BlockConfirmations = cfg.Chain.BlockConfirmations
	clientCfg.MaxGasPrice = new(big.Int).Mul(big.NewInt(cfg.Chain.MaxGasPriceGwei), big.NewInt(1e9))
	clientCfg.RequestsPerSecond = cfg.Chain.RequestsPerSecond
	clientCfg.Burst = cfg.Chain.Burst

	e := &env{
		cfg:       cfg,
		client:    chain.NewClient(clientCfg, signer),
		kettle:    kettle,
		multicall: common.HexToAddress(cfg.Chain.MulticallAddress),
		metrics:   metrics.NewCollector(),
	}

	if UseMock {
		e.mock = chain.NewMockChain(cfg.Chain.ChainID, e.kettle, e.multicall)
		e.mock.SetTime(timeNow())
		err = e.client.Attach(ctx, e.mock)
	} else {
		err = e.client.Connect(ctx)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Metrics.Enabled {
		srv, err := metrics.Serve(ctx, cfg.Metrics.ListenAddr, e.metrics)
		if err != nil {
			e.client.Close()
			return nil, fmt.Errorf("start metrics server: %w", err)
		}
		e.server = srv
	}
	return e, nil
}

// Close stops the metrics server and releases the connection
func (e *env) Close() {
	if e.server != nil {
		e.server.Shutdown(context.Background())
	}
	e.client.Close()
}

func (e *env) validator() (*validation.Validator, error) {
	return validation.New(e.client, e.kettle, e.multicall, validation.Options{
		Capabilities:       validation.Capabilities{LienAware: e.cfg.Validation.LienAware},
		MaxCallsPerRequest: e.cfg.Validation.MaxCallsPerRequest,
		Metrics:            e.metrics,
	})
}

func (e *env) builder() (*actions.Builder, error) {
	v, err := e.validator()
	if err != nil {
		return nil, err
	}
	return actions.New(e.client, e.kettle, v, actions.Options{
		ConfirmTimeout: e.cfg.Actions.ConfirmTimeout(),
		Metrics:        e.metrics,
	})
}

// loadSigner decrypts the configured keystore. The passphrase comes from
// the password file or, failing that, a terminal prompt. With --mock and no
// keystore a throwaway key is generated.
func loadSigner(cfg *config.Config) (signing.Signer, error) {
	path := cfg.Account.KeystorePath
	if path == "" {
		if !UseMock {
			return nil, fmt.Errorf("account.keystore_path is required to sign")
		}
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		s := signing.NewKeySigner(key)
		logging.Debug("using throwaway mock account", logging.Component("cli"), logging.Maker(s.Address()))
		return s, nil
	}

	passphrase, err := readPassphrase(cfg.Account.PasswordFile)
	if err != nil {
		return nil, err
	}
	return signing.LoadKeystore(path, passphrase)
}

func readPassphrase(passwordFile string) (string, error) {
	if passwordFile != "" {
		data, err := os.ReadFile(passwordFile)
		if err != nil {
			return "", fmt.Errorf("read password file: %w", err)
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no password file configured and stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, "Keystore passphrase: ")
	pass, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	return string(pass), nil
}
