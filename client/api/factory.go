package api

import (
	"context"
	"time"

	"github.com/depools/mms/client/api/http_api"
	"github.com/depools/mms/client/config"
	"github.com/depools/mms/client/services/node"
)

const shutdownTimeout = 10 * time.Second

// Run serves the REST API until the context is cancelled, then shuts
// the listener down gracefully.
func Run(ctx context.Context, cfg *config.Config, node node.NodeService) error {
	provider := &http_api.RESTApiProvider{}
	if err := provider.NewServer(cfg, node); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- provider.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return provider.Stop(stopCtx)
}
