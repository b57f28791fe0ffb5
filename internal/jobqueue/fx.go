package jobqueue

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/subhub/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("jobqueue",
	fx.Provide(NewQueue),
	fx.Provide(func(q Queue) Scheduler { return q }),
)

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
	Redis  *redis.Client `optional:"true"`
}

// NewQueue picks the queue backend from JOBQUEUE_DRIVER.
func NewQueue(p Params) Queue {
	if p.Config.JobQueueDriver == config.JobQueueDriverMemory || p.Redis == nil {
		p.Log.Warn("using in-memory billing job queue; scheduled cycles do not survive restarts")
		return NewMemoryQueue()
	}
	p.Log.Info("using redis billing job queue", zap.String("prefix", p.Config.JobQueuePrefix))
	return NewRedisQueue(p.Redis, p.Config.JobQueuePrefix)
}
