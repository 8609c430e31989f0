package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/juno-intents/confidential-ledger/internal/ledger"
	ledgerpg "github.com/juno-intents/confidential-ledger/internal/ledger/postgres"
	"github.com/juno-intents/confidential-ledger/internal/secrets"
	"github.com/juno-intents/confidential-ledger/internal/snapshot"
)

const (
	modeExport = "export"
	modeVerify = "verify"
)

func main() {
	var (
		mode              = flag.String("mode", modeExport, "export|verify")
		snapshotID        = flag.String("snapshot-id", "", "snapshot id to verify (required for --mode=verify)")
		postgresDSN       = flag.String("postgres-dsn", "", "Postgres DSN (required for export unless --postgres-dsn-secret is set)")
		postgresDSNSecret = flag.String("postgres-dsn-secret", "", "secret key holding the Postgres DSN")
		secretsDriver     = flag.String("secrets-driver", secrets.DriverEnv, "secrets driver: env|aws")

		sinkDriver = flag.String("sink-driver", snapshot.DriverS3, "snapshot sink driver: s3|memory")
		bucket     = flag.String("s3-bucket", "", "S3 bucket (required for s3)")
		prefix     = flag.String("s3-prefix", "confidential-ledger/snapshots", "S3 key prefix")
		maxGetSize = flag.Int64("max-get-size", 16<<20, "maximum snapshot object size read back (bytes)")
		pageSize   = flag.Int("page-size", 500, "accounts listed per store page")
		timeout    = flag.Duration("timeout", 10*time.Minute, "overall timeout")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	m := strings.ToLower(strings.TrimSpace(*mode))
	if m != modeExport && m != modeVerify {
		fmt.Fprintf(os.Stderr, "error: unsupported --mode %q\n", *mode)
		os.Exit(2)
	}
	if m == modeVerify && strings.TrimSpace(*snapshotID) == "" {
		fmt.Fprintln(os.Stderr, "error: --snapshot-id is required for --mode=verify")
		os.Exit(2)
	}
	if *pageSize <= 0 || *maxGetSize <= 0 || *timeout <= 0 {
		fmt.Fprintln(os.Stderr, "error: --page-size, --max-get-size, and --timeout must be > 0")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	sink, err := newSink(ctx, *sinkDriver, *bucket, *prefix, *maxGetSize)
	if err != nil {
		log.Error("init snapshot sink", "err", err)
		os.Exit(2)
	}

	if m == modeVerify {
		if err := verify(ctx, sink, strings.TrimSpace(*snapshotID), os.Stdout); err != nil {
			log.Error("verify snapshot", "id", *snapshotID, "err", err)
			os.Exit(1)
		}
		return
	}

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

	store, err := ledgerpg.New(pool)
	if err != nil {
		log.Error("init ledger store", "err", err)
		os.Exit(2)
	}

	if err := export(ctx, store, sink, *pageSize, log, os.Stdout); err != nil {
		log.Error("export snapshot", "err", err)
		os.Exit(1)
	}
}

func newSink(ctx context.Context, driver, bucket, prefix string, maxGetSize int64) (snapshot.Sink, error) {
	cfg := snapshot.SinkConfig{
		Driver:     strings.ToLower(strings.TrimSpace(driver)),
		Bucket:     strings.TrimSpace(bucket),
		Prefix:     strings.TrimSpace(prefix),
		MaxGetSize: maxGetSize,
	}
	if cfg.Driver == "" || cfg.Driver == snapshot.DriverS3 {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		cfg.S3Client = awss3.NewFromConfig(awsCfg)
	}
	return snapshot.NewSink(cfg)
}

func resolveDSN(ctx context.Context, dsn, secretKey, driver string) (string, error) {
	if dsn = strings.TrimSpace(dsn); dsn != "" {
		return dsn, nil
	}
	if strings.TrimSpace(secretKey) == "" {
		return "", errors.New("--postgres-dsn or --postgres-dsn-secret is required for export")
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

// export writes one snapshot, reads it back, and prints the manifest.
func export(ctx context.Context, store ledger.Store, sink snapshot.Sink, pageSize int, log *slog.Logger, out io.Writer) error {
	exp, err := snapshot.NewExporter(store, sink, snapshot.ExporterConfig{PageSize: pageSize}, log)
	if err != nil {
		return err
	}
	m, err := exp.Export(ctx)
	if err != nil {
		return err
	}
	if _, err := snapshot.Restore(ctx, sink, m.ID); err != nil {
		return fmt.Errorf("read back snapshot %s: %w", m.ID, err)
	}
	log.Info("snapshot exported", "id", m.ID, "accounts", m.AccountCount, "auditors", m.AuditorCount)
	return writeManifest(out, m)
}

func verify(ctx context.Context, sink snapshot.Sink, id string, out io.Writer) error {
	s, err := snapshot.Restore(ctx, sink, id)
	if err != nil {
		return err
	}
	return writeManifest(out, s.Manifest)
}

func writeManifest(w io.Writer, m snapshot.Manifest) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}
