package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
	"github.com/shinyyama/messaging-backend/internal/config"
	"github.com/shinyyama/messaging-backend/internal/db"
	"github.com/shinyyama/messaging-backend/internal/query"
	"github.com/shinyyama/messaging-backend/internal/repository"
	"go.mongodb.org/mongo-driver/bson"
	"google.golang.org/api/option"
)

type exportConfig struct {
	Bucket         string `env:"EXPORT_BUCKET,required"`
	PageSize       int64  `env:"EXPORT_PAGE_SIZE" envDefault:"500"`
	TimeoutSeconds int    `env:"EXPORT_TIMEOUT_SECONDS" envDefault:"600"`
}

func main() {
	_ = godotenv.Load()

	prefix := flag.String("prefix", time.Now().UTC().Format("20060102T150405Z"), "object prefix inside the bucket")
	flag.Parse()

	var ecfg exportConfig
	if err := env.Parse(&ecfg); err != nil {
		log.Fatalf("failed to parse env: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(ecfg.TimeoutSeconds)*time.Second)
	defer cancel()

	client, err := db.NewClient(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to connect db: %v", err)
	}
	defer client.Close(context.Background())

	var opts []option.ClientOption
	if cfg.GoogleCredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.GoogleCredentialsFile))
	}
	storageClient, err := storage.NewClient(ctx, opts...)
	if err != nil {
		log.Fatalf("failed to init storage: %v", err)
	}
	defer storageClient.Close()

	for _, m := range client.Registry().Models() {
		object := path.Join(*prefix, m.Collection+".jsonl")
		n, err := exportModel(ctx, client.MustModel(m.Name), storageClient.Bucket(ecfg.Bucket).Object(object), ecfg.PageSize)
		if err != nil {
			log.Fatalf("export %s failed: %v", m.Name, err)
		}
		log.Printf("exported model=%s rows=%d to gs://%s/%s", m.Name, n, ecfg.Bucket, object)
	}
	log.Println("export completed successfully")
}

// exportModel streams every row in id order, one relaxed Extended JSON
// document per line.
func exportModel(ctx context.Context, d *repository.Delegate, obj *storage.ObjectHandle, pageSize int64) (int64, error) {
	if pageSize <= 0 {
		pageSize = 500
	}
	w := obj.NewWriter(ctx)
	w.ContentType = "application/x-ndjson"

	var (
		total  int64
		cursor string
	)
	for {
		args := repository.FindArgs{OrderBy: []query.Order{query.AscBy("id")}, Take: pageSize}
		if cursor != "" {
			args.Cursor = cursor
			args.Skip = 1
		}
		recs, err := d.FindMany(ctx, args)
		if err != nil {
			_ = w.Close()
			return total, err
		}
		for _, rec := range recs {
			line, err := bson.MarshalExtJSON(rec, false, false)
			if err != nil {
				_ = w.Close()
				return total, fmt.Errorf("encode row: %w", err)
			}
			if _, err := w.Write(append(line, '\n')); err != nil {
				_ = w.Close()
				return total, err
			}
			total++
		}
		if int64(len(recs)) < pageSize {
			break
		}
		id, _ := recs[len(recs)-1]["id"].(string)
		cursor = id
	}
	return total, w.Close()
}
