package jobmanager

import (
	"context"
	"runtime"

	"github.com/RezaEskandarii/pgqueue/app"
	"github.com/RezaEskandarii/pgqueue/client"
	"github.com/RezaEskandarii/pgqueue/types/config"
)

// New wires a complete queue from cfg: storage, notification broker, migrator,
// publisher and runner.
//
// The returned Queue is not started. Register handlers first, then call Start,
// which applies pending migrations (when cfg.RunMigrations is set) and begins
// claiming jobs. Destroy stops both work loops and closes every connection
// opened here.
func New(ctx context.Context, cfg *config.QueueConfig, opts ...app.ContainerOption) (*client.Queue, error) {
	container, err := app.NewContainer(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}
	container.Log.WithField("gomaxprocs", runtime.GOMAXPROCS(0)).Debug("queue created")
	return container.Queue, nil
}
