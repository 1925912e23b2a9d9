// Command scribectl administers the audit table: creation, index
// management, status, a write-read smoke test, and read-API token minting.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"scribe/internal/audit/ingest"
	"scribe/internal/audit/models"
	"scribe/internal/audit/provision"
	"scribe/internal/audit/query"
	dynamostore "scribe/internal/audit/store/dynamo"
	"scribe/internal/jwtauth"
	"scribe/internal/platform/config"
	"scribe/internal/platform/dynamo"
	"scribe/internal/platform/logger"
)

const usage = `usage: scribectl <command>

commands:
  create-table       create the audit table, date index, and expiry attribute
  create-date-index  add the date index to an existing table
  status             report table and index status
  smoke-test         write one record and read it back
  token              mint a bearer token for the read API
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fatal("config load failed: %v", err)
	}

	ctx := context.Background()

	switch os.Args[1] {
	case "create-table":
		prov := provisioner(ctx, cfg)
		if err := prov.CreateTable(ctx); err != nil {
			fatal("create-table: %v", err)
		}
		fmt.Printf("table %q created with index %q, expiry enabled on expires_at\n",
			cfg.Store.TableName, cfg.Store.IndexName)
	case "create-date-index":
		prov := provisioner(ctx, cfg)
		if err := prov.CreateDateIndex(ctx); err != nil {
			fatal("create-date-index: %v", err)
		}
		fmt.Printf("index %q creation initiated; it may take several minutes to become active\n",
			cfg.Store.IndexName)
	case "status":
		prov := provisioner(ctx, cfg)
		status, err := prov.Status(ctx)
		if err != nil {
			fatal("status: %v", err)
		}
		fmt.Printf("table: %s  status: %s  items: %d\n", cfg.Store.TableName, status.TableStatus, status.ItemCount)
		if status.IndexExists {
			fmt.Printf("index: %s  status: %s\n", cfg.Store.IndexName, status.IndexStatus)
		} else {
			fmt.Printf("index: %s  not present\n", cfg.Store.IndexName)
		}
	case "smoke-test":
		if err := smokeTest(ctx, cfg); err != nil {
			fatal("smoke-test: %v", err)
		}
		fmt.Println("smoke test passed")
	case "token":
		fs := flag.NewFlagSet("token", flag.ExitOnError)
		actorType := fs.String("actor-type", "Operator", "actor type claim")
		actorID := fs.String("actor-id", "scribectl", "actor id claim")
		ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
		_ = fs.Parse(os.Args[2:])

		token, err := jwtauth.NewService(cfg.JWTSigningKey, "scribe").GenerateToken(*actorType, *actorID, *ttl)
		if err != nil {
			fatal("token: %v", err)
		}
		fmt.Println(token)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func provisioner(ctx context.Context, cfg *config.Config) *provision.Provisioner {
	client, err := dynamo.New(ctx, cfg.Store)
	if err != nil {
		fatal("dynamodb client setup failed: %v", err)
	}
	return provision.New(client, cfg.Store.TableName, cfg.Store.IndexName)
}

// smokeTest exercises the full write-read loop: one synchronous ingest,
// then a primary-key search for the record just written.
func smokeTest(ctx context.Context, cfg *config.Config) error {
	client, err := dynamo.New(ctx, cfg.Store)
	if err != nil {
		return err
	}
	st := dynamostore.New(client, cfg.Store.TableName)
	log := logger.New()

	ingestor, err := ingest.New(st, cfg.Store.TableName,
		ingest.WithRetention(cfg.Retention()),
		ingest.WithLogger(log),
	)
	if err != nil {
		return err
	}

	subjectID := fmt.Sprintf("smoke-%d", time.Now().UnixNano())
	ingestor.Ingest(ctx, models.Event{
		Action:      models.EventCreated,
		SubjectType: "SmokeTest",
		SubjectID:   subjectID,
		After:       map[string]any{"ok": true},
	})

	page := query.New(st, query.WithLogger(log)).Search(ctx, 1, nil, models.Filters{
		SubjectType: "SmokeTest",
		SubjectID:   subjectID,
	})
	if page.Error != "" {
		return fmt.Errorf("read back failed: %s", page.Error)
	}
	if page.Count != 1 {
		return fmt.Errorf("expected 1 record, found %d", page.Count)
	}
	return nil
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
