package services

import (
	"fmt"

	"github.com/depools/mms/client/config"
	"github.com/depools/mms/client/modules/keystore"
	"github.com/depools/mms/client/modules/logger"
	"github.com/depools/mms/client/modules/state"
	"github.com/depools/mms/client/repositories/message"
	"github.com/depools/mms/client/repositories/signer"
	"github.com/depools/mms/client/repositories/txrecord"
	"github.com/depools/mms/client/services/autoconf"
	"github.com/depools/mms/client/services/processing"
	"github.com/depools/mms/transport"
	"github.com/depools/mms/wallet"
)

// ServiceProvider wires one node's dependencies together. It is a plain
// value, not a singleton, so several nodes can live in one process (the
// flow tests and the demo do exactly that).
type ServiceProvider struct {
	cfg          *config.Config
	log          logger.Logger
	state        state.State
	keyStore     keystore.KeyStore
	gateway      transport.Gateway
	engine       wallet.Engine
	messageRepo  message.MessageRepo
	signerRepo   signer.SignerRepo
	txRecordRepo txrecord.TxRecordRepo
	procService  processing.ProcessingService
	autoConf     autoconf.AutoConfigService
}

// Init builds the repositories and domain services on top of the given
// state, keystore, gateway and engine.
func (p *ServiceProvider) Init(cfg *config.Config, st state.State, ks keystore.KeyStore,
	gw transport.Gateway, engine wallet.Engine) error {
	keyPair, err := ks.LoadKeys(cfg.Username, "")
	if err != nil {
		return fmt.Errorf("failed to LoadKeys: %w", err)
	}

	messageRepo, err := message.NewMessageRepo(st, cfg.Topic)
	if err != nil {
		return fmt.Errorf("failed to init message repo: %w", err)
	}

	p.cfg = cfg
	p.log = logger.NewLogger(cfg.Username)
	p.state = st
	p.keyStore = ks
	p.gateway = gw
	p.engine = engine
	p.messageRepo = messageRepo
	p.signerRepo = signer.NewSignerRepo(st, cfg.Topic)
	p.txRecordRepo = txrecord.NewTxRecordRepo(st, cfg.Topic)
	p.procService = processing.NewProcessingService()
	p.autoConf = autoconf.NewAutoConfigService(keyPair.GetAddr(), p.signerRepo, p.messageRepo, p.log)

	return nil
}

func (p *ServiceProvider) GetConfig() *config.Config {
	return p.cfg
}

func (p *ServiceProvider) GetLogger() logger.Logger {
	return p.log
}

func (p *ServiceProvider) GetState() state.State {
	return p.state
}

func (p *ServiceProvider) GetKeyStore() keystore.KeyStore {
	return p.keyStore
}

func (p *ServiceProvider) GetGateway() transport.Gateway {
	return p.gateway
}

func (p *ServiceProvider) GetEngine() wallet.Engine {
	return p.engine
}

func (p *ServiceProvider) GetMessageRepo() message.MessageRepo {
	return p.messageRepo
}

func (p *ServiceProvider) GetSignerRepo() signer.SignerRepo {
	return p.signerRepo
}

func (p *ServiceProvider) GetTxRecordRepo() txrecord.TxRecordRepo {
	return p.txRecordRepo
}

func (p *ServiceProvider) GetProcessingService() processing.ProcessingService {
	return p.procService
}

func (p *ServiceProvider) GetAutoConfigService() autoconf.AutoConfigService {
	return p.autoConf
}
