// Command tlr runs the directory sweeps once from the command line.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"tlr.org/internal/config"
	"tlr.org/internal/directory"
	"tlr.org/internal/jobs"
	"tlr.org/internal/mail"
	"tlr.org/internal/obs"
	"tlr.org/internal/search"
	"tlr.org/internal/store/pg"
)

var commands = map[string]string{
	jobs.SweepStaleServices:       "Send notifications to service admins and global admins about stale services",
	jobs.SweepAutoDeleteReferrals: "Delete closed referrals past the retention period",
	jobs.SweepReindexSearch:       "Drop, recreate and repopulate the services search index",
}

func usage(fs *pflag.FlagSet) {
	fmt.Fprintln(os.Stderr, "usage: tlr [flags] <command>")
	fmt.Fprintln(os.Stderr, "\ncommands:")
	for _, name := range []string{jobs.SweepAutoDeleteReferrals, jobs.SweepStaleServices, jobs.SweepReindexSearch} {
		fmt.Fprintf(os.Stderr, "  %-24s %s\n", name, commands[name])
	}
	fmt.Fprintln(os.Stderr, "\nflags:")
	fs.PrintDefaults()
}

func main() {
	fs := pflag.NewFlagSet("tlr", pflag.ExitOnError)
	configFile := fs.StringP("config", "c", "", "YAML config file (overrides TLR_CONFIG_FILE)")
	timeout := fs.Duration("timeout", 30*time.Minute, "Abort the sweep after this long")
	inline := fs.Bool("inline", false, "Deliver mail directly instead of queueing it")
	fs.Usage = func() { usage(fs) }
	_ = fs.Parse(os.Args[1:])

	if fs.NArg() != 1 {
		usage(fs)
		os.Exit(2)
	}
	sweep := strings.TrimSpace(fs.Arg(0))
	if _, ok := commands[sweep]; !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", sweep)
		usage(fs)
		os.Exit(2)
	}

	if *configFile != "" {
		_ = os.Setenv("TLR_CONFIG_FILE", *configFile)
	}
	cfg, err := config.Load()
	if err != nil {
		fatal("config: %v", err)
	}

	var store directory.Store
	if cfg.Database.DSN != "" {
		pgStore, err := pg.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns)
		if err != nil {
			fatal("open db: %v", err)
		}
		defer pgStore.Close()
		store = pgStore
	} else {
		obs.Warn("no database configured, running against an empty in-memory store", nil)
		store = directory.NewInMemory()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	dedup, closeDedup := deduper(ctx, cfg.Redis, cfg.Mail.DedupTTL)
	defer closeDedup()
	opts := []jobs.Option{jobs.WithIndexer(search.Open(cfg.Search)), jobs.WithDeduper(dedup)}

	var queue mail.Queue
	if *inline {
		queue = mail.Direct{Sender: sender(cfg)}
	} else {
		asynqQueue := mail.NewAsynqQueue(cfg.Redis)
		defer asynqQueue.Close()
		queue = asynqQueue
	}
	runner := jobs.NewRunner(*cfg, store, queue, opts...)

	sum, err := runner.Run(ctx, sweep)
	if err != nil {
		fatal("%s: %v", sweep, err)
	}
	fmt.Println(sum)
}

func sender(cfg *config.Config) mail.Sender {
	if cfg.Mail.NotifyURL != "" {
		return mail.NewNotifySender(cfg.Mail.NotifyURL, cfg.Mail.NotifyAPIKey)
	}
	return mail.LogSender{}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
