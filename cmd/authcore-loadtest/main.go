// Command authcore-loadtest seeds sessions into an engine and measures the latency of
// the per-request paths under concurrency: session verification and rate limiting.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/halaqah/authcore"
	"github.com/halaqah/authcore/permission"
)

type options struct {
	users       int
	perUser     int
	concurrency int
	ops         int
	redisAddr   string
	prefix      string
}

type seeded struct {
	token string
	ip    string
}

func main() {
	var opts options
	cmd := &cobra.Command{
		Use:          "authcore-loadtest",
		Short:        "Measure verify and rate-limit latency against memory, miniredis or Redis",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.users, "users", 2000, "number of users to seed")
	cmd.Flags().IntVar(&opts.perUser, "sessions-per-user", 3, "sessions created per user")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 128, "number of concurrent workers")
	cmd.Flags().IntVar(&opts.ops, "ops", 200000, "operations per phase")
	cmd.Flags().StringVar(&opts.redisAddr, "redis-addr", os.Getenv("REDIS_ADDR"), `redis address; "mini" starts miniredis, empty uses memory stores`)
	cmd.Flags().StringVar(&opts.prefix, "prefix", "aclt", "redis key prefix")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, out io.Writer, opts options) error {
	if opts.users <= 0 || opts.perUser <= 0 || opts.concurrency <= 0 || opts.ops <= 0 {
		return fmt.Errorf("users, sessions-per-user, concurrency and ops must be > 0")
	}

	cfg := authcore.DefaultConfig()
	cfg.Token.Secret = []byte("loadtest-secret-0123456789abcdef0123")
	cfg.Session.RedisPrefix = opts.prefix
	cfg.Session.MaxPerUser = opts.perUser
	// Large limits so the rate phase measures the counter, not the deny path.
	cfg.RateLimit.API.Limit = opts.ops * 2
	builder := authcore.New().WithConfig(cfg).WithLogger(slog.New(slog.DiscardHandler))

	switch opts.redisAddr {
	case "":
		fmt.Fprintln(out, "using in-process stores")
	case "mini":
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start miniredis: %w", err)
		}
		defer mr.Close()
		opts.redisAddr = mr.Addr()
		fmt.Fprintf(out, "using miniredis at %s\n", opts.redisAddr)
		fallthrough
	default:
		rdb := redis.NewClient(&redis.Options{Addr: opts.redisAddr, PoolSize: opts.concurrency})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis %s: %w", opts.redisAddr, err)
		}
		builder = builder.WithRedis(rdb)
	}

	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	start := time.Now()
	states, err := seed(ctx, engine, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "seeded %d sessions in %s\n", len(states), time.Since(start).Round(time.Millisecond))

	verify, err := runPhase(ctx, opts, func(r *rand.Rand) bool {
		s := states[r.IntN(len(states))]
		_, ok := engine.VerifySession(ctx, s.token, s.ip)
		return ok
	})
	if err != nil {
		return err
	}

	limit, err := runPhase(ctx, opts, func(r *rand.Rand) bool {
		s := states[r.IntN(len(states))]
		decision, err := engine.AllowRequest(ctx, "/api/sessions", s.ip)
		return err == nil && decision.Allowed
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "---- results ----")
	printStats(out, "verify", verify)
	printStats(out, "rate-limit", limit)
	return nil
}

func seed(ctx context.Context, engine *authcore.Engine, opts options) ([]seeded, error) {
	states := make([]seeded, 0, opts.users*opts.perUser)
	for u := 0; u < opts.users; u++ {
		userID := "lt-" + strconv.Itoa(u)
		for s := 0; s < opts.perUser; s++ {
			ip := "10." + strconv.Itoa(u/65536%256) + "." + strconv.Itoa(u/256%256) + "." + strconv.Itoa(u%256)
			res, err := engine.CreateSession(ctx, authcore.SessionRequest{
				UserID: userID,
				Role:   permission.RoleStudent,
				Email:  userID + "@loadtest.local",
				Device: authcore.DeviceInfo{UserAgent: "authcore-loadtest/" + strconv.Itoa(s), AcceptLanguage: "en"},
				IP:     ip,
			})
			if err != nil {
				return nil, fmt.Errorf("seed %s: %w", userID, err)
			}
			states = append(states, seeded{token: res.Token, ip: ip})
		}
	}
	return states, nil
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

// runPhase spreads opts.ops calls of op across opts.concurrency workers.
func runPhase(ctx context.Context, opts options, op func(*rand.Rand) bool) (phaseStats, error) {
	var (
		cursor    atomic.Int64
		failures  atomic.Int64
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, opts.ops)
	)

	eg, ctx := errgroup.WithContext(ctx)
	start := time.Now()
	for w := 0; w < opts.concurrency; w++ {
		stream := uint64(w)
		eg.Go(func() error {
			r := rand.New(rand.NewPCG(stream, uint64(time.Now().UnixNano())))
			local := make([]time.Duration, 0, opts.ops/opts.concurrency+1)
			for cursor.Add(1) <= int64(opts.ops) {
				if err := ctx.Err(); err != nil {
					return err
				}
				t0 := time.Now()
				if !op(r) {
					failures.Add(1)
				}
				local = append(local, time.Since(t0))
			}
			mu.Lock()
			latencies = append(latencies, local...)
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return phaseStats{}, err
	}
	return computeStats(time.Since(start), latencies, failures.Load()), nil
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	slices.Sort(samples)
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

// percentile expects sorted samples.
func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(w io.Writer, name string, s phaseStats) {
	fmt.Fprintf(w, "%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
