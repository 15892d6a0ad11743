package services

import (
	"fmt"

	"github.com/depools/mms/client/config"
	"github.com/depools/mms/client/modules/keystore"
	"github.com/depools/mms/client/modules/state"
	"github.com/depools/mms/transport"
	"github.com/depools/mms/transport/file_transport"
	"github.com/depools/mms/transport/kafka_transport"
	"github.com/depools/mms/wallet"
	"github.com/depools/mms/wallet/bls"
)

// InitServices builds a full provider from configuration: LevelDB state
// and keystore, the configured transport and the built-in wallet engine.
func InitServices(cfg *config.Config) (*ServiceProvider, error) {
	keyStore, err := keystore.NewLevelDBKeyStore(cfg.KeyStoreDBDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to init keystore: %w", err)
	}

	st, err := state.NewLevelDBState(cfg.StateDBSN, cfg.Topic)
	if err != nil {
		return nil, fmt.Errorf("failed to init state: %w", err)
	}

	gateway, err := initGateway(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.WalletConfig == nil {
		return nil, fmt.Errorf("no wallet engine configured")
	}
	engine, err := NewWalletEngine(cfg.WalletConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to init wallet engine: %w", err)
	}

	sp := &ServiceProvider{}
	if err := sp.Init(cfg, st, keyStore, gateway, engine); err != nil {
		return nil, err
	}

	return sp, nil
}

// NewWalletEngine builds the built-in reference engine from its config
// section. A deployment fronting real wallet software swaps this out.
func NewWalletEngine(cfg *config.WalletConfig) (wallet.Engine, error) {
	return bls.NewEngine(cfg.DBPath, cfg.Mnemonic, bls.WithExtraRounds(cfg.ExtraRounds))
}

func initGateway(cfg *config.Config) (transport.Gateway, error) {
	switch {
	case cfg.KafkaTransportConfig != nil:
		kt, err := kafka_transport.NewKafkaTransport(
			cfg.KafkaTransportConfig.BrokerEndpoint,
			cfg.KafkaTransportConfig.Topic,
			cfg.KafkaTransportConfig.ConsumerGroup,
			cfg.KafkaTransportConfig.TlsConfig,
			cfg.KafkaTransportConfig.ProducerCredentials,
			cfg.KafkaTransportConfig.ConsumerCredentials,
			cfg.KafkaTransportConfig.Timeout,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to init kafka transport: %w", err)
		}

		if err := kt.IgnoreEnvelopes(
			cfg.KafkaTransportConfig.IgnoredEnvelopes,
			cfg.KafkaTransportConfig.UseOffsetInsteadId,
		); err != nil {
			return nil, fmt.Errorf("failed to ignore envelopes in transport: %w", err)
		}

		return kt, nil
	case cfg.FileTransportConfig != nil:
		if cfg.FileTransportConfig.LockFile != "" {
			return file_transport.NewFileTransport(cfg.FileTransportConfig.DataFile, cfg.FileTransportConfig.LockFile)
		}
		return file_transport.NewFileTransport(cfg.FileTransportConfig.DataFile)
	default:
		return nil, fmt.Errorf("no transport configured")
	}
}
