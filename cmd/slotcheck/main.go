package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/park285/Cheese-Board/internal/docstore"
	"github.com/park285/Cheese-Board/internal/docstore/pgstore"
	"github.com/park285/Cheese-Board/internal/docstore/redisstore"
	"github.com/park285/Cheese-Board/internal/gamesync"
	"github.com/park285/Cheese-Board/internal/position"
	"github.com/park285/Cheese-Board/internal/rules"
)

func main() {
	uid := flag.String("uid", "", "actor uid whose slot to inspect")
	slot := flag.String("slot", envDefault("GAME_SLOT", gamesync.DefaultSlot), "session slot")
	watch := flag.Duration("watch", 0, "keep printing changes for this long (0 = print once)")
	flag.Parse()

	if strings.TrimSpace(*uid) == "" {
		log.Fatal("-uid is required")
	}

	store, err := open()
	if err != nil {
		log.Fatalf("store error: %v", err)
	}
	defer func() { _ = store.Close() }()

	key := gamesync.SlotKey(*slot, *uid)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	snap, err := store.Get(ctx, key)
	cancel()
	if err != nil {
		log.Fatalf("get %s: %v", key, err)
	}
	printSnapshot(snap)

	if *watch <= 0 {
		return
	}

	sctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	wctx, wcancel := context.WithTimeout(sctx, *watch)
	defer wcancel()

	sub, err := store.Subscribe(wctx, key, printSnapshot, func(err error) {
		log.Printf("subscription error: %v", err)
		wcancel()
	})
	if err != nil {
		log.Fatalf("subscribe %s: %v", key, err)
	}
	defer sub.Unsubscribe()
	<-wctx.Done()
}

func open() (docstore.Store, error) {
	if u := strings.TrimSpace(os.Getenv("REDIS_URL")); u != "" {
		return redisstore.New(u)
	}
	if u := strings.TrimSpace(os.Getenv("DATABASE_URL")); u != "" {
		return pgstore.New(u)
	}
	return nil, fmt.Errorf("REDIS_URL or DATABASE_URL is required")
}

func printSnapshot(snap docstore.Snapshot) {
	rec, ok := gamesync.RecordFromSnapshot(snap)
	if !ok {
		fmt.Printf("%s: no game record\n", snap.Key)
		return
	}
	fmt.Printf("%s: owner=%s updated=%s\n  position=%s\n", rec.Key, rec.Owner, rec.LastUpdated.Format(time.RFC3339), rec.Position)
	pos, err := position.Parse(rec.Position)
	if err != nil {
		fmt.Printf("  invalid position: %v\n", err)
		return
	}
	eng := rules.New()
	if err := eng.LoadPosition(pos); err == nil {
		fmt.Printf("  status=%s\n", eng.Status().Text())
	}
}

func envDefault(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}
