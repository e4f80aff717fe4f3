// Command poolr queries and publishes to a set of nostr relays through the
// relay pool.
package main

import (
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/alexflint/go-arg"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Hubmakerlabs/poolr/pkg/client"
	"github.com/Hubmakerlabs/poolr/pkg/config"
	"github.com/Hubmakerlabs/poolr/pkg/context"
	"github.com/Hubmakerlabs/poolr/pkg/eose/store"
	"github.com/Hubmakerlabs/poolr/pkg/metrics"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/event"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/keys"
	"github.com/Hubmakerlabs/poolr/pkg/nostr/relayurl"
	"github.com/Hubmakerlabs/poolr/pkg/relay/wsclient"
	"github.com/Hubmakerlabs/poolr/pkg/slog"
)

var (
	AppName = "poolr"
	Version = "v0.0.1"
)

var log, chk = slog.New(os.Stderr)

type command func(cx context.T, c *client.T, relays relayurl.Set) error

func main() {
	var args config.C
	p := arg.MustParse(&args)
	if args.ReqCmd == nil && args.CountCmd == nil && args.PublishCmd == nil &&
		args.InitCfgCmd == nil {
		p.WriteHelp(os.Stderr)
		os.Exit(1)
	}
	dataDir, err := args.Dir()
	if chk.E(err) {
		os.Exit(1)
	}
	configPath := filepath.Join(dataDir, config.ConfigFile)
	conf := config.Default()
	if err = conf.Load(configPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.E.F("failed to load configuration: '%s'", err)
		os.Exit(1)
	}
	args.Merge(conf)
	lvl, err := slog.ParseLevel(args.LogLevel)
	if chk.E(err) {
		os.Exit(1)
	}
	slog.SetLogLevel(lvl)
	log.T.S(args)
	if args.InitCfgCmd != nil {
		if args.SecKey == "" {
			if args.SecKey, err = keys.GeneratePrivateKey(); chk.E(err) {
				os.Exit(1)
			}
		}
		if err = args.Save(configPath); chk.E(err) {
			log.E.F("failed to write configuration: '%s'", err)
			os.Exit(1)
		}
		log.I.Ln("configuration written to", configPath)
		return
	}
	if err = run(&args, dataDir); err != nil {
		log.E.Ln(err)
		os.Exit(1)
	}
}

func run(args *config.C, dataDir string) (err error) {
	var relays relayurl.Set
	if relays, err = args.RelaySet(); err != nil {
		return
	}
	var st store.I
	if st, err = openStore(args.EOSEStore, filepath.Join(dataDir, "eose")); err != nil {
		return
	}
	if st != nil {
		defer func() { chk.E(st.Close()) }()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	opts := []client.Option{
		client.WithWindow(args.Window),
		client.WithMetrics(metrics.New(reg)),
		client.WithFactory(wsclient.Factory(wsclient.WithDialTimeout(args.DialTimeout))),
	}
	if args.SecKey != "" {
		sk := args.SecKey
		opts = append(opts, client.WithAuthHandler(func(ev *event.T) error {
			return keys.Sign(ev, sk)
		}))
	}
	c := client.New(opts...)
	defer c.Shutdown()

	var cmd command
	switch {
	case args.ReqCmd != nil:
		cmd = func(cx context.T, c *client.T, relays relayurl.Set) error {
			return req(cx, c, relays, args.ReqCmd, st, os.Stdout)
		}
	case args.CountCmd != nil:
		cmd = func(cx context.T, c *client.T, relays relayurl.Set) error {
			return count(cx, c, relays, args.CountCmd, os.Stdout)
		}
	case args.PublishCmd != nil:
		cmd = func(cx context.T, c *client.T, relays relayurl.Set) error {
			return publish(cx, c, relays, args.PublishCmd, args.SecKey, os.Stdin, os.Stdout)
		}
	}

	cx, stop := signal.NotifyContext(context.Bg(), os.Interrupt)
	defer stop()
	g, gcx := errgroup.WithContext(cx)
	if args.Metrics != "" {
		srv := &http.Server{Addr: args.Metrics, Handler: metricsHandler(reg)}
		g.Go(func() error {
			log.I.Ln("serving metrics on", args.Metrics)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gcx.Done()
			return srv.Close()
		})
	}
	g.Go(func() error {
		c.KeepAlive(gcx, args.KeepAlive)
		return nil
	})
	g.Go(func() (err error) {
		defer stop()
		if err = cmd(gcx, c, relays); errors.Is(err, context.Canceled) {
			err = nil
		}
		return
	})
	return g.Wait()
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

func openStore(kind, path string) (st store.I, err error) {
	switch kind {
	case "", "none":
		return nil, nil
	case "memory":
		return store.NewMemory(), nil
	case "badger":
		var b *store.Badger
		if b, err = store.OpenBadger(path); err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, log.E.Err("unknown eose store %q", kind)
}
