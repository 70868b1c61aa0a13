package snapstore

import (
	"time"

	"github.com/fenilsonani/snapstore/internal/options"
	"github.com/fenilsonani/snapstore/internal/remote"
)

// Config collects every knob a snapstore operation accepts. Not every
// field applies to every operation; unused fields are simply ignored
// (e.g. CompressionLevel has no effect on Extract).
type Config struct {
	NumWorkers       int
	CompressionLevel int
	NumFrames        int
	Reset            bool
	Verify           bool
	Force            bool
	Progress         func(phase string, done, total int)
	LockTimeout      time.Duration
	Refresher        remote.Refresher
}

func defaultConfig() Config {
	return Config{CompressionLevel: 19}
}

// Option configures a Config.
type Option = options.Option[*Config]

// WithWorkers sets the worker-pool size for the operation. 0 means
// let the operation choose (typically one worker per frame/object).
func WithWorkers(n int) Option {
	return options.NoError(func(c *Config) { c.NumWorkers = n })
}

// WithCompressionLevel sets the zstd level (1-22) used by Pack.
func WithCompressionLevel(level int) Option {
	return options.New(func(c *Config) error {
		if level < 1 || level > 22 {
			return NewError("snapstore.WithCompressionLevel", KindInvalidArgument, nil)
		}
		c.CompressionLevel = level
		return nil
	})
}

// WithFrames fixes the number of frames Pack splits objects into. 0
// means auto-detect from total object size.
func WithFrames(n int) Option {
	return options.NoError(func(c *Config) { c.NumFrames = n })
}

// WithReset makes Extract treat HEAD as empty, fully materializing
// the target snapshot.
func WithReset() Option {
	return options.NoError(func(c *Config) { c.Reset = true })
}

// WithVerify makes Extract recompute and check each written file's
// hash after writing it.
func WithVerify() Option {
	return options.NoError(func(c *Config) { c.Verify = true })
}

// WithForce makes Extract skip the pre-overwrite drift check against
// HEAD.
func WithForce() Option {
	return options.NoError(func(c *Config) { c.Force = true })
}

// WithProgress registers a callback invoked from worker goroutines as
// an operation advances; it must be safe for concurrent use.
func WithProgress(fn func(phase string, done, total int)) Option {
	return options.NoError(func(c *Config) { c.Progress = fn })
}

// WithLockTimeout bounds how long a write operation waits for the
// repository lock before failing with Busy. The default is immediate
// (fail without waiting).
func WithLockTimeout(d time.Duration) Option {
	return options.NoError(func(c *Config) { c.LockTimeout = d })
}

// WithRefresher supplies the collaborator Extract uses to refresh
// remote indexes once, if the target snapshot is not found locally.
func WithRefresher(r remote.Refresher) Option {
	return options.NoError(func(c *Config) { c.Refresher = r })
}

func resolveConfig(opts []Option) (Config, error) {
	cfg := defaultConfig()
	if err := options.Apply(&cfg, opts...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
