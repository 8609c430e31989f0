package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/juno-intents/confidential-ledger/internal/accountapi"
	"github.com/juno-intents/confidential-ledger/internal/instruction"
	"github.com/juno-intents/confidential-ledger/internal/ledger"
	ledgerpg "github.com/juno-intents/confidential-ledger/internal/ledger/postgres"
	"github.com/juno-intents/confidential-ledger/internal/processor"
	"github.com/juno-intents/confidential-ledger/internal/queue"
	"github.com/juno-intents/confidential-ledger/internal/secrets"
)

func main() {
	var (
		postgresDSN       = flag.String("postgres-dsn", "", "Postgres DSN (required when --store-driver=postgres unless --postgres-dsn-secret is set)")
		postgresDSNSecret = flag.String("postgres-dsn-secret", "", "secret key holding the Postgres DSN")
		secretsDriver     = flag.String("secrets-driver", secrets.DriverEnv, "secrets driver: env|aws")
		storeDriver       = flag.String("store-driver", "postgres", "ledger store driver: postgres|memory")

		queueDriver   = flag.String("queue-driver", queue.DriverKafka, "queue driver: kafka|stdio")
		queueBrokers  = flag.String("queue-brokers", "", "comma-separated queue brokers (required for kafka)")
		queueGroup    = flag.String("queue-group", "ledger-processor", "queue consumer group (required for kafka)")
		queueTopics   = flag.String("queue-topics", "confidential.instructions.v1", "comma-separated instruction topics")
		resultTopic   = flag.String("result-topic", "confidential.results.v1", "topic for instruction results (empty disables publishing)")
		maxLineBytes  = flag.Int("max-line-bytes", 1<<20, "maximum stdin line size for stdio driver (bytes)")
		queueMaxBytes = flag.Int("queue-max-bytes", 10<<20, "maximum kafka message size for consumer reads (bytes)")
		ackTimeout    = flag.Duration("queue-ack-timeout", 5*time.Second, "timeout for queue message acknowledgements")

		execTimeout  = flag.Duration("exec-timeout", 10*time.Second, "per-instruction execution timeout")
		retryBackoff = flag.Duration("retry-backoff", 500*time.Millisecond, "initial backoff after an internal failure")
		retryMax     = flag.Duration("retry-max-backoff", 30*time.Second, "maximum backoff after repeated internal failures")

		httpListen        = flag.String("http-listen", "", "optional listen address for the read-only account API")
		rateLimitRPS      = flag.Float64("rate-limit-rps", 20, "account API per-IP refill rate (requests/second)")
		rateLimitBurst    = flag.Int("rate-limit-burst", 40, "account API per-IP burst")
		rateLimitMaxIPs   = flag.Int("rate-limit-max-tracked-ips", 10_000, "account API max tracked client IPs")
		readHeaderTimeout = flag.Duration("read-header-timeout", 5*time.Second, "http.Server ReadHeaderTimeout")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *maxLineBytes <= 0 || *queueMaxBytes <= 0 {
		fmt.Fprintln(os.Stderr, "error: --max-line-bytes and --queue-max-bytes must be > 0")
		os.Exit(2)
	}
	if *ackTimeout <= 0 || *execTimeout <= 0 || *retryBackoff <= 0 || *retryMax < *retryBackoff {
		fmt.Fprintln(os.Stderr, "error: --queue-ack-timeout, --exec-timeout, and --retry-backoff must be > 0 and --retry-max-backoff >= --retry-backoff")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store ledger.Store
	switch strings.ToLower(strings.TrimSpace(*storeDriver)) {
	case "postgres":
		dsn, err := resolveDSN(ctx, *postgresDSN, *postgresDSNSecret, *secretsDriver)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(2)
		}
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			log.Error("init pgx pool", "err", err)
			os.Exit(2)
		}
		defer pool.Close()

		pgStore, err := ledgerpg.New(pool)
		if err != nil {
			log.Error("init ledger store", "err", err)
			os.Exit(2)
		}
		if err := pgStore.EnsureSchema(ctx); err != nil {
			log.Error("ensure ledger schema", "err", err)
			os.Exit(2)
		}
		store = pgStore
	case "memory":
		store = ledger.NewMemoryStore()
	default:
		fmt.Fprintf(os.Stderr, "error: unsupported --store-driver %q\n", *storeDriver)
		os.Exit(2)
	}

	proc, err := processor.New(store, nil, log)
	if err != nil {
		log.Error("init processor", "err", err)
		os.Exit(2)
	}

	consumer, err := queue.NewConsumer(ctx, queue.ConsumerConfig{
		Driver:        *queueDriver,
		Brokers:       queue.SplitCommaList(*queueBrokers),
		Group:         *queueGroup,
		Topics:        queue.SplitCommaList(*queueTopics),
		KafkaMaxBytes: *queueMaxBytes,
		MaxLineBytes:  *maxLineBytes,
	})
	if err != nil {
		log.Error("init queue consumer", "err", err)
		os.Exit(2)
	}
	defer func() { _ = consumer.Close() }()

	var producer queue.Producer
	if strings.TrimSpace(*resultTopic) != "" {
		producer, err = queue.NewProducer(queue.ProducerConfig{
			Driver:  *queueDriver,
			Brokers: queue.SplitCommaList(*queueBrokers),
			Writer:  os.Stdout,
		})
		if err != nil {
			log.Error("init queue producer", "err", err)
			os.Exit(2)
		}
		defer func() { _ = producer.Close() }()
	}

	var srv *http.Server
	if strings.TrimSpace(*httpListen) != "" {
		handler, err := accountapi.NewHandler(accountapi.Config{
			RateLimitPerIPPerSecond: *rateLimitRPS,
			RateLimitBurst:          *rateLimitBurst,
			RateLimitMaxTrackedIPs:  *rateLimitMaxIPs,
			Log:                     log,
		}, store)
		if err != nil {
			log.Error("init account api", "err", err)
			os.Exit(2)
		}
		srv = &http.Server{
			Addr:              *httpListen,
			Handler:           handler,
			ReadHeaderTimeout: *readHeaderTimeout,
			MaxHeaderBytes:    1 << 20,
		}
		go func() {
			log.Info("account api listening", "addr", *httpListen)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("account api server error", "err", err)
				stop()
			}
		}()
	}

	log.Info("ledger processor started",
		"storeDriver", strings.ToLower(strings.TrimSpace(*storeDriver)),
		"queueDriver", *queueDriver,
		"queueTopics", *queueTopics,
		"resultTopic", *resultTopic,
	)

	r := &runner{
		proc:         proc,
		producer:     producer,
		resultTopic:  strings.TrimSpace(*resultTopic),
		ackTimeout:   *ackTimeout,
		execTimeout:  *execTimeout,
		retryBackoff: *retryBackoff,
		retryMax:     *retryMax,
		log:          log,
	}
	r.run(ctx, consumer)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}

func resolveDSN(ctx context.Context, dsn, secretKey, driver string) (string, error) {
	if dsn = strings.TrimSpace(dsn); dsn != "" {
		return dsn, nil
	}
	if strings.TrimSpace(secretKey) == "" {
		return "", fmt.Errorf("--postgres-dsn or --postgres-dsn-secret is required when --store-driver=postgres")
	}
	p, err := secrets.New(ctx, driver)
	if err != nil {
		return "", err
	}
	v, err := p.Get(ctx, secretKey)
	if err != nil {
		return "", fmt.Errorf("load postgres dsn: %w", err)
	}
	return strings.TrimSpace(v), nil
}

type runner struct {
	proc     *processor.Processor
	producer queue.Producer

	resultTopic  string
	ackTimeout   time.Duration
	execTimeout  time.Duration
	retryBackoff time.Duration
	retryMax     time.Duration

	log *slog.Logger
}

// run consumes instructions one at a time until ctx is canceled or the
// consumer closes. Sequential handling keeps per-partition order.
func (r *runner) run(ctx context.Context, consumer queue.Consumer) {
	msgCh := consumer.Messages()
	errCh := consumer.Errors()
	for {
		select {
		case <-ctx.Done():
			r.log.Info("shutdown", "reason", ctx.Err())
			return
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				r.log.Error("queue consume error", "err", err)
			}
		case qmsg, ok := <-msgCh:
			if !ok {
				r.log.Info("input closed")
				return
			}
			if !r.handle(ctx, qmsg) {
				return
			}
		}
	}
}

// handle executes one message and acks it once its outcome is durable.
// Internal failures are retried with backoff; the message is left unacked
// when ctx ends first so it is redelivered.
func (r *runner) handle(ctx context.Context, qmsg queue.Message) bool {
	line := bytes.TrimSpace(qmsg.Value)
	if len(line) == 0 {
		ackMessage(qmsg, r.ackTimeout, r.log)
		return true
	}

	backoff := r.retryBackoff
	for {
		cctx, cancel := withTimeout(ctx, r.execTimeout)
		res := r.proc.Process(cctx, line)
		cancel()

		if res.Code != instruction.CodeInternal {
			r.publish(ctx, res)
			ackMessage(qmsg, r.ackTimeout, r.log)
			return true
		}

		r.log.Error("instruction failed, retrying", "id", res.InstructionID, "kind", res.Kind, "err", res.Error, "backoff", backoff.String())
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
		backoff = min(2*backoff, r.retryMax)
	}
}

func (r *runner) publish(ctx context.Context, res instruction.Result) {
	if r.producer == nil || r.resultTopic == "" {
		return
	}
	b, err := instruction.EncodeResult(res)
	if err != nil {
		r.log.Error("encode result", "id", res.InstructionID, "err", err)
		return
	}
	var key []byte
	if res.Account != "" {
		key = []byte(res.Account)
	}
	cctx, cancel := withTimeout(ctx, r.ackTimeout)
	defer cancel()
	if err := r.producer.Publish(cctx, r.resultTopic, key, b); err != nil {
		r.log.Error("publish result", "id", res.InstructionID, "err", err)
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

func ackMessage(msg queue.Message, timeout time.Duration, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := msg.Ack(ctx); err != nil {
		log.Error("ack queue message", "topic", msg.Topic, "err", err)
	}
}
