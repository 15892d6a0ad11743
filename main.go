package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/depools/mms/client/config"
	"github.com/depools/mms/client/modules/keystore"
	"github.com/depools/mms/client/modules/state"
	"github.com/depools/mms/client/services"
	"github.com/depools/mms/client/services/node"
	"github.com/depools/mms/transport/file_transport"
)

// A self-contained 2-of-3 walkthrough: three signers in one process
// share a file transport, bootstrap the registry with auto-config
// tokens, exchange keys, trade sync data and push one transfer along
// the signing chain.

type demoNode struct {
	name    string
	svc     node.NodeService
	keyPair *keystore.KeyPair
}

func main() {
	var (
		numNodes  = 3
		threshold = uint32(2)
		baseDir   = filepath.Join(os.TempDir(), "mms_demo")
	)
	if err := os.RemoveAll(baseDir); err != nil {
		log.Fatalf("failed to clean %s: %v\n", baseDir, err)
	}

	transportFile := filepath.Join(baseDir, "transport")
	names := []string{"alice", "bob", "carol"}

	var nodes = make([]*demoNode, numNodes)
	for nodeID := 0; nodeID < numNodes; nodeID++ {
		var ctx = context.Background()
		var userName = names[nodeID]

		st, err := state.NewLevelDBState(filepath.Join(baseDir, userName+"_state"), "mms_demo")
		if err != nil {
			log.Fatalf("node %d failed to init state: %v\n", nodeID, err)
		}

		keyStore, err := keystore.NewLevelDBKeyStore(filepath.Join(baseDir, userName+"_key_store"))
		if err != nil {
			log.Fatalf("node %d failed to init key store: %v\n", nodeID, err)
		}
		keyPair := keystore.NewKeyPair()
		if err := keyStore.PutKeys(userName, keyPair); err != nil {
			log.Fatalf("node %d failed to PutKeys: %v\n", nodeID, err)
		}

		gateway, err := file_transport.NewFileTransport(transportFile, transportFile+".lock")
		if err != nil {
			log.Fatalf("node %d failed to init transport: %v\n", nodeID, err)
		}

		engine, err := services.NewWalletEngine(&config.WalletConfig{
			DBPath: filepath.Join(baseDir, userName+"_wallet"),
		})
		if err != nil {
			log.Fatalf("node %d failed to init wallet engine: %v\n", nodeID, err)
		}

		// The built-in engine folds every provided key set into the
		// joint wallet, so all peers have to contribute before the
		// multisig is made.
		cfg := &config.Config{
			Username:     userName,
			Topic:        "mms_demo",
			KeySetQuorum: uint32(numNodes - 1),
		}

		sp := &services.ServiceProvider{}
		if err := sp.Init(cfg, st, keyStore, gateway, engine); err != nil {
			log.Fatalf("node %d failed to init services: %v\n", nodeID, err)
		}

		svc, err := node.NewNode(ctx, cfg, sp)
		if err != nil {
			log.Fatalf("node %d failed to init node: %v\n", nodeID, err)
		}

		nodes[nodeID] = &demoNode{name: userName, svc: svc, keyPair: keyPair}
		log.Printf("node %s ready, transport address %s\n", userName, keyPair.GetAddr())
	}

	// Every signer sets up their own registry before any coordination.
	for _, n := range nodes {
		if _, err := n.svc.InitWallet(threshold, uint32(numNodes), n.name, n.name+"_payout_address"); err != nil {
			log.Fatalf("%s failed to init wallet: %v\n", n.name, err)
		}
	}

	// The first signer manages auto-config and hands out one token per
	// peer; here they travel in memory instead of over a side channel.
	tokens, err := nodes[0].svc.StartAutoConfig([]string{"bob", "carol"})
	if err != nil {
		log.Fatalf("failed to start auto-config: %v\n", err)
	}
	for i, n := range nodes[1:] {
		token := tokens[uint32(i+1)]
		if _, err := n.svc.AutoConfig(token); err != nil {
			log.Fatalf("%s failed to apply token: %v\n", n.name, err)
		}
	}

	pump(nodes, "bootstrap and key exchange")

	// One transfer: drafted on the manager, signed along the chain,
	// submitted once the threshold is reached.
	if _, err := nodes[0].svc.ProposeTransfer("demo_destination_address", 1000); err != nil {
		log.Fatalf("failed to propose transfer: %v\n", err)
	}

	pump(nodes, "transfer signing")

	for _, n := range nodes {
		status, err := n.svc.Status()
		if err != nil {
			log.Fatalf("%s failed to report status: %v\n", n.name, err)
		}
		log.Printf("%s: phase=%s address=%s height=%d messages=%d\n",
			n.name, status.Wallet.Phase, status.Wallet.Address, status.Wallet.Height, status.Messages)
	}
}

// pump runs receive/next/send rounds until every node goes idle.
func pump(nodes []*demoNode, stage string) {
	log.Printf("--- %s ---\n", stage)
	for round := 0; round < 64; round++ {
		idle := true
		for _, n := range nodes {
			if _, err := n.svc.Receive(); err != nil {
				log.Fatalf("%s failed to receive: %v\n", n.name, err)
			}
			for {
				action, _, err := n.svc.Next(false)
				if err != nil {
					log.Fatalf("%s failed to process: %v\n", n.name, err)
				}
				if action == nil {
					break
				}
				idle = false
				fmt.Printf("  %s executed %s\n", n.name, action)
			}
			sent, err := n.svc.SendReadyMessages(nil)
			if err != nil {
				log.Fatalf("%s failed to send: %v\n", n.name, err)
			}
			if sent > 0 {
				idle = false
			}
		}
		if idle {
			return
		}
	}
	log.Fatalf("stage %q did not converge\n", stage)
}
