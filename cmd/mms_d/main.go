package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/depools/mms/client/api"
	"github.com/depools/mms/client/config"
	"github.com/depools/mms/client/modules/keystore"
	"github.com/depools/mms/client/services"
	"github.com/depools/mms/client/services/node"
	"github.com/depools/mms/transport/kafka_transport"
)

const (
	flagConfigPath    = "config"
	flagUserName      = "username"
	flagHTTPHost      = "http_host"
	flagHTTPPort      = "http_port"
	flagStateDBDSN    = "state_dbdsn"
	flagKeyStoreDBDSN = "key_store_dbdsn"
	flagTopic         = "topic"
	flagPollInterval  = "poll_interval"
	flagTransportFile = "transport_file"
	flagWalletDBDSN   = "wallet_dbdsn"
	flagWalletSeed    = "wallet_mnemonic"
)

func init() {
	rootCmd.PersistentFlags().String(flagConfigPath, "", "Path to a config file (yaml)")
	rootCmd.PersistentFlags().String(flagUserName, "testUser", "Username")
	rootCmd.PersistentFlags().String(flagHTTPHost, "localhost", "HTTP API host")
	rootCmd.PersistentFlags().Int(flagHTTPPort, 8080, "HTTP API port")
	rootCmd.PersistentFlags().String(flagStateDBDSN, "./mms_client_state", "State DBDSN")
	rootCmd.PersistentFlags().String(flagKeyStoreDBDSN, "./mms_key_store", "Key Store DBDSN")
	rootCmd.PersistentFlags().String(flagTopic, "messages", "Transport topic")
	rootCmd.PersistentFlags().Duration(flagPollInterval, 90*time.Second, "Background poll period")
	rootCmd.PersistentFlags().String(flagTransportFile, "", "File transport data file (use the file transport instead of kafka)")
	rootCmd.PersistentFlags().String(flagWalletDBDSN, "./mms_wallet", "Wallet engine DBDSN")
	rootCmd.PersistentFlags().String(flagWalletSeed, "", "Wallet engine mnemonic (generated when empty)")
}

var rootCmd = &cobra.Command{
	Use:   "mms_d",
	Short: "mms client daemon implementation",
}

func bindConfig(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("mms")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlag("username", cmd.Flags().Lookup(flagUserName)); err != nil {
		return nil, err
	}
	if err := v.BindPFlag("http_api.host", cmd.Flags().Lookup(flagHTTPHost)); err != nil {
		return nil, err
	}
	if err := v.BindPFlag("http_api.port", cmd.Flags().Lookup(flagHTTPPort)); err != nil {
		return nil, err
	}
	if err := v.BindPFlag("state_dbdsn", cmd.Flags().Lookup(flagStateDBDSN)); err != nil {
		return nil, err
	}
	if err := v.BindPFlag("key_store_dbdsn", cmd.Flags().Lookup(flagKeyStoreDBDSN)); err != nil {
		return nil, err
	}
	if err := v.BindPFlag("topic", cmd.Flags().Lookup(flagTopic)); err != nil {
		return nil, err
	}
	if err := v.BindPFlag("poll_interval", cmd.Flags().Lookup(flagPollInterval)); err != nil {
		return nil, err
	}
	if err := v.BindPFlag("file_transport.data_file", cmd.Flags().Lookup(flagTransportFile)); err != nil {
		return nil, err
	}
	if err := v.BindPFlag("wallet.dbdsn", cmd.Flags().Lookup(flagWalletDBDSN)); err != nil {
		return nil, err
	}
	if err := v.BindPFlag("wallet.mnemonic", cmd.Flags().Lookup(flagWalletSeed)); err != nil {
		return nil, err
	}

	configPath, err := cmd.Flags().GetString(flagConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration: %v", err)
	}
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configPath, err)
		}
	}

	return v, nil
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v, err := bindConfig(cmd)
	if err != nil {
		return nil, err
	}

	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.WalletConfig == nil {
		cfg.WalletConfig = &config.WalletConfig{
			DBPath:   v.GetString("wallet.dbdsn"),
			Mnemonic: v.GetString("wallet.mnemonic"),
		}
	}

	// The data_file flag materializes an empty section through the
	// binding even when unused.
	if cfg.FileTransportConfig != nil && cfg.FileTransportConfig.DataFile == "" {
		cfg.FileTransportConfig = nil
	}

	// The file transport flag wins over any kafka section so that a
	// local setup never needs a broker.
	if cfg.FileTransportConfig != nil {
		cfg.KafkaTransportConfig = nil
	}

	if cfg.KafkaTransportConfig != nil {
		if err := buildKafkaAuth(v, cfg.KafkaTransportConfig); err != nil {
			return nil, err
		}
	}

	return &cfg, nil
}

func buildKafkaAuth(v *viper.Viper, kafkaCfg *config.KafkaTransportConfig) error {
	if trustStorePath := v.GetString("kafka_transport.truststore_path"); trustStorePath != "" {
		tlsConfig, err := kafka_transport.GetTLSConfig(trustStorePath)
		if err != nil {
			return fmt.Errorf("failed to load kafka truststore: %w", err)
		}
		kafkaCfg.TlsConfig = tlsConfig
	}

	var err error
	if creds := v.GetString("kafka_transport.producer_credentials"); creds != "" {
		if kafkaCfg.ProducerCredentials, err = parseKafkaSaslPlain(creds); err != nil {
			return err
		}
	}
	if creds := v.GetString("kafka_transport.consumer_credentials"); creds != "" {
		if kafkaCfg.ConsumerCredentials, err = parseKafkaSaslPlain(creds); err != nil {
			return err
		}
	}

	return nil
}

func parseKafkaSaslPlain(creds string) (*plain.Mechanism, error) {
	credsSplit := strings.SplitN(creds, ":", 2)
	if len(credsSplit) == 1 {
		return nil, fmt.Errorf("failed to parse credentials")
	}
	return &plain.Mechanism{
		Username: credsSplit[0],
		Password: credsSplit[1],
	}, nil
}

func genKeyPairCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "gen_keys",
		Short: "generates a keypair to sign and verify envelopes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			keyPair := keystore.NewKeyPair()
			keyStore, err := keystore.NewLevelDBKeyStore(cfg.KeyStoreDBDSN)
			if err != nil {
				return fmt.Errorf("failed to init key store: %w", err)
			}
			if err = keyStore.PutKeys(cfg.Username, keyPair); err != nil {
				return fmt.Errorf("failed to save keypair: %w", err)
			}
			fmt.Printf("keypair generated for user %s and saved to %s\n", cfg.Username, cfg.KeyStoreDBDSN)
			fmt.Printf("transport address: %s\n", keyPair.GetAddr())
			return nil
		},
	}
}

func startClientCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "starts the mms client daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			sp, err := services.InitServices(cfg)
			if err != nil {
				return fmt.Errorf("failed to init services: %w", err)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			nodeService, err := node.NewNode(ctx, cfg, sp)
			if err != nil {
				return fmt.Errorf("failed to init node: %w", err)
			}

			go func() {
				if err := nodeService.Poll(); err != nil {
					log.Printf("polling stopped with error: %v\n", err)
					cancel()
				}
			}()

			nodeService.GetLogger().Log("Waiting for connections on %s:%d...", cfg.HttpApiConfig.Host, cfg.HttpApiConfig.Port)
			return api.Run(ctx, cfg, nodeService)
		},
	}
}

func main() {
	rootCmd.AddCommand(
		genKeyPairCommand(),
		startClientCommand(),
	)
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Failed to execute root command: %v", err)
	}
}
