package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"threadbox/pkg/config"
	"threadbox/pkg/logger"
	"threadbox/pkg/models"
	"threadbox/pkg/store"
	"threadbox/pkg/threadkey"
)

// threadbox-inspect dumps a message box as an indented thread tree,
// straight from the row store. Deleted messages are shown scrubbed.
func main() {
	var cfgPath, box string
	var limit int
	var showTombs bool
	flag.StringVar(&cfgPath, "config", "config.yaml", "path to config file")
	flag.StringVar(&box, "box", "", "message box id to dump")
	flag.IntVar(&limit, "limit", 0, "max messages to print (0 = all)")
	flag.BoolVar(&showTombs, "tombstones", false, "also list hard-delete tombstones")
	flag.Parse()
	if box == "" {
		fmt.Fprintln(os.Stderr, "--box required")
		os.Exit(2)
	}

	_ = godotenv.Load(".env")
	logger.Init()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	rows, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store at %s: %v\n", cfg.Storage.DBPath, err)
		os.Exit(1)
	}
	defer rows.Close()

	if err := dumpBox(rows, box, limit); err != nil {
		fmt.Fprintf(os.Stderr, "dump: %v\n", err)
		os.Exit(1)
	}
	if showTombs {
		if err := dumpTombstones(rows, box); err != nil {
			fmt.Fprintf(os.Stderr, "tombstones: %v\n", err)
			os.Exit(1)
		}
	}
}

// dumpBox walks the box index in key order, which is depth-first thread
// order, and prints one line per message indented by reply depth.
func dumpBox(rows *store.Pebble, box string, limit int) error {
	prefix := "box:" + box + ":k:"
	var token string
	printed := 0
	for {
		entries, next, err := rows.Scan(prefix, token, 200, false)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if limit > 0 && printed >= limit {
				return nil
			}
			var idx struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(e.Value, &idx); err != nil {
				fmt.Printf("?? bad index row %s: %v\n", e.Key, err)
				continue
			}
			data, err := rows.Get("msg:" + idx.ID)
			if err != nil {
				fmt.Printf("?? dangling index %s -> %s: %v\n", e.Key, idx.ID, err)
				continue
			}
			var msg models.Message
			if err := json.Unmarshal(data, &msg); err != nil {
				fmt.Printf("?? bad message row %s: %v\n", idx.ID, err)
				continue
			}
			printMessage(msg)
			printed++
		}
		if next == "" {
			return nil
		}
		token = next
	}
}

func printMessage(msg models.Message) {
	if msg.Deleted != nil {
		msg = msg.Scrub()
	}
	depth, err := threadkey.Level(msg.ThreadKey)
	if err != nil {
		depth = 0
	}
	indent := strings.Repeat("  ", depth)
	when := time.UnixMilli(msg.Created).UTC().Format(time.RFC3339)
	status := ""
	if msg.Deleted != nil {
		status = " [deleted]"
	}
	fmt.Printf("%s%s %s%s %q\n", indent, when, msg.CreatedBy, status, msg.Body)
}

func dumpTombstones(rows *store.Pebble, box string) error {
	prefix := "tomb:" + box + ":"
	var token string
	fmt.Println("tombstones:")
	for {
		entries, next, err := rows.Scan(prefix, token, 200, false)
		if err != nil {
			return err
		}
		for _, e := range entries {
			var tomb models.Tombstone
			if err := json.Unmarshal(e.Value, &tomb); err != nil {
				fmt.Printf("?? bad tombstone row %s: %v\n", e.Key, err)
				continue
			}
			fmt.Printf("  created=%d key=%s deleted_at=%s\n",
				tomb.Created, tomb.ThreadKey,
				time.UnixMilli(tomb.DeletedAt).UTC().Format(time.RFC3339))
		}
		if next == "" {
			return nil
		}
		token = next
	}
}
