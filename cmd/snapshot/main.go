// snapshot 將 products 表匯出為商品快照檔
//
// 服務啟動時設定 catalog.products_blob 即可從快照載入，不必整表掃描。
//
// 使用：
//
//	snapshot -config config.yaml -out products.json
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/koopa0/system-design/14-catalog-read-path/internal/catalog"
	"github.com/koopa0/system-design/14-catalog-read-path/internal/config"
	"github.com/koopa0/system-design/14-catalog-read-path/internal/database"
	"github.com/koopa0/system-design/14-catalog-read-path/internal/refstore"
	"github.com/koopa0/system-design/14-catalog-read-path/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	out := flag.String("out", "products.json", "output file")
	flag.Parse()

	// 有 .env 時載入（不覆蓋已存在的環境變數）
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, closeLog, err := logger.New(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: "stderr"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := database.NewPool(ctx, cfg, nil)
	if err != nil {
		log.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	products, err := refstore.TableSource{Q: pool}.LoadProducts(ctx)
	if err != nil {
		log.Error("failed to load products", "error", err)
		os.Exit(1)
	}

	if err := writeFile(*out, products); err != nil {
		log.Error("failed to write snapshot", "path", *out, "error", err)
		os.Exit(1)
	}

	log.Info("snapshot written", "path", *out, "products", len(products))
}

// writeFile 先寫暫存檔再 rename，避免留下寫到一半的快照
func writeFile(path string, products []catalog.Product) error {
	tmp := path + ".tmp"

	// #nosec G304 - 路徑來自命令列旗標
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(f)
	if err := refstore.WriteBlob(w, products); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
