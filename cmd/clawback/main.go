package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/crystal-mush/clawback/pkg/backup"
	"github.com/crystal-mush/clawback/pkg/boltstore"
	"github.com/crystal-mush/clawback/pkg/config"
	"github.com/crystal-mush/clawback/pkg/content"
	"github.com/crystal-mush/clawback/pkg/engine"
	"github.com/crystal-mush/clawback/pkg/journal"
	"github.com/crystal-mush/clawback/pkg/npc"
	"github.com/crystal-mush/clawback/pkg/scheduler"
	"github.com/crystal-mush/clawback/pkg/server"
	"github.com/crystal-mush/clawback/pkg/world"
)

// envDefault returns the environment variable value if set, otherwise the fallback.
func envDefault(envVar, fallback string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return fallback
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("WARNING: .env: %v", err)
	}

	confFile := flag.String("conf", envDefault("CLAW_CONF", ""), "Path to simulation config file (env: CLAW_CONF)")
	persona := flag.String("persona", envDefault("CLAW_PERSONA", "sarah"), "Persona id to work for (env: CLAW_PERSONA)")
	genPersonas := flag.Bool("gen-personas", os.Getenv("CLAW_GEN_PERSONAS") == "true", "Generate a fresh persona instead of a built-in one (env: CLAW_GEN_PERSONAS)")
	scenarios := flag.String("scenarios", envDefault("CLAW_SCENARIOS", ""), "Scenario pool override, hot reloaded (env: CLAW_SCENARIOS)")
	archivePath := flag.String("archive", envDefault("CLAW_ARCHIVE", ""), "Path to bbolt run archive (env: CLAW_ARCHIVE)")
	journalPath := flag.String("journal", envDefault("CLAW_JOURNAL", ""), "Path to SQLite event journal (env: CLAW_JOURNAL)")
	webAddr := flag.String("web", envDefault("CLAW_WEB", ""), "HTTP listen address, e.g. :8080 (env: CLAW_WEB)")
	accessKey := flag.String("access-key", envDefault("CLAW_ACCESS_KEY", ""), "Key required to obtain a web session (env: CLAW_ACCESS_KEY)")
	tlsDomain := flag.String("tls-domain", envDefault("CLAW_TLS_DOMAIN", ""), "Let's Encrypt domain (env: CLAW_TLS_DOMAIN)")
	tlsCert := flag.String("tls-cert", envDefault("CLAW_TLS_CERT", ""), "Path to TLS certificate file (env: CLAW_TLS_CERT)")
	tlsKey := flag.String("tls-key", envDefault("CLAW_TLS_KEY", ""), "Path to TLS private key file (env: CLAW_TLS_KEY)")
	certDir := flag.String("cert-dir", envDefault("CLAW_CERT_DIR", ""), "Directory for self-signed certs and the ACME cache (env: CLAW_CERT_DIR)")
	backupDir := flag.String("backup-dir", envDefault("CLAW_BACKUP_DIR", ""), "Write a backup here on shutdown (env: CLAW_BACKUP_DIR)")
	restorePath := flag.String("restore", envDefault("CLAW_RESTORE", ""), "Restore archive and journal from a backup before boot (env: CLAW_RESTORE)")
	seed := flag.Int64("seed", 0, "Random seed, 0 for time based (env: CLAW_SEED)")
	debug := flag.Bool("debug", os.Getenv("CLAW_DEBUG") == "true", "Log generation fallbacks (env: CLAW_DEBUG)")
	repl := flag.Bool("repl", os.Getenv("CLAW_REPL") != "false", "Read terminal commands from stdin (env: CLAW_REPL)")
	flag.Parse()

	log.Printf("Welcome to %s", server.VersionString())

	conf := config.DefaultSimConf()
	if *confFile != "" {
		var err error
		conf, err = config.LoadSimConf(*confFile)
		if err != nil {
			log.Fatalf("FATAL: %v", err)
		}
		log.Printf("Loaded config from %s", *confFile)
	}
	if *seed == 0 {
		if v, err := strconv.ParseInt(os.Getenv("CLAW_SEED"), 10, 64); err == nil {
			*seed = v
		}
	}
	if *seed != 0 {
		conf.Seed = *seed
	}
	conf.Debug = conf.Debug || *debug
	overlay(&conf.ScenarioFile, *scenarios)
	overlay(&conf.ArchivePath, *archivePath)
	overlay(&conf.JournalPath, *journalPath)
	overlay(&conf.WebAddr, *webAddr)
	overlay(&conf.JWTSecret, os.Getenv("CLAW_JWT_SECRET"))
	overlay(&conf.Model, os.Getenv("CLAW_MODEL"))
	if err := conf.Validate(); err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	if *restorePath != "" {
		res, err := backup.Restore(backup.RestoreParams{
			Path:        *restorePath,
			ArchiveDest: conf.ArchivePath,
			JournalDest: conf.JournalPath,
		})
		if err != nil {
			log.Fatalf("FATAL: %v", err)
		}
		log.Printf("Restored %d files from %s (%s)", res.FilesRestored, *restorePath, res.Manifest.Timestamp)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []engine.Option
	svc := newContent(ctx, conf)
	if svc != nil {
		opts = append(opts, engine.WithContent(svc))
	}

	if conf.ScenarioFile != "" {
		pool := scheduler.NewPool()
		if err := pool.Load(conf.ScenarioFile); err != nil {
			log.Fatalf("FATAL: %v", err)
		}
		log.Printf("Loaded %d scenarios from %s", pool.Len(), conf.ScenarioFile)
		if unwatch, err := pool.Watch(conf.ScenarioFile); err != nil {
			log.Printf("WARNING: scenario hot reload disabled: %v", err)
		} else {
			defer unwatch()
		}
		opts = append(opts, engine.WithPool(pool))
	}

	eng := engine.New(conf, opts...)
	defer eng.Close()

	var webOpts []server.Option
	bp := backup.Params{Dir: *backupDir, Server: server.VersionString()}
	if *confFile != "" {
		bp.ConfFiles = append(bp.ConfFiles, *confFile)
	}
	if conf.ScenarioFile != "" {
		bp.ConfFiles = append(bp.ConfFiles, conf.ScenarioFile)
	}

	var archived *boltstore.Store
	if conf.ArchivePath != "" {
		store, err := boltstore.Open(conf.ArchivePath)
		if err != nil {
			log.Fatalf("FATAL: %v", err)
		}
		defer store.Close()
		arch := boltstore.NewArchiver(store)
		arch.Attach(eng.Bus())
		defer arch.Close()
		webOpts = append(webOpts, server.WithArchive(store))
		bp.ArchiveSnapshot = store.Snapshot
		archived = store
		log.Printf("Run archive at %s", store.Path())
	}

	if conf.JournalPath != "" {
		j, err := journal.Open(conf.JournalPath, conf.JournalRetention)
		if err != nil {
			log.Fatalf("FATAL: %v", err)
		}
		defer j.Close()
		j.Attach(eng.Bus())
		webOpts = append(webOpts, server.WithJournal(j))
		bp.JournalPath = j.Path()
		bp.JournalCheckpoint = j.Checkpoint
		log.Printf("Event journal at %s (retention %d days)", j.Path(), conf.JournalRetention)
	}

	p := pickPersona(ctx, svc, *persona, *genPersonas)
	eng.Start(p)
	go eng.Run(ctx)

	if conf.WebAddr != "" {
		cfg := server.WebConfig{
			Addr:        conf.WebAddr,
			Domain:      *tlsDomain,
			CertFile:    *tlsCert,
			KeyFile:     *tlsKey,
			CertDir:     *certDir,
			CORSOrigins: conf.CORSOrigins,
			RateLimit:   conf.RateLimit,
			RateBurst:   conf.RateBurst,
			JWTSecret:   conf.JWTSecret,
			AccessKey:   *accessKey,
		}
		ws := server.NewWebServer(eng, cfg, webOpts...)
		go func() {
			if err := ws.Start(cfg); err != nil {
				log.Printf("web: %v", err)
				stop()
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := ws.Stop(sctx); err != nil {
				log.Printf("web: shutdown: %v", err)
			}
		}()
	}

	if *repl {
		r := newREPL(eng, os.Stdin, os.Stdout)
		go func() {
			r.Run(ctx)
			stop()
		}()
	}

	<-ctx.Done()
	log.Printf("Shutting down")

	if bp.Dir != "" {
		if archived != nil {
			bp.Runs = archived.RunCount()
		}
		if path, err := backup.Create(bp); err != nil {
			log.Printf("WARNING: backup failed: %v", err)
		} else {
			log.Printf("Backup written to %s", path)
		}
	}
}

func overlay(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// newContent returns a Gemini-backed service when GEMINI_API_KEY is set,
// nil otherwise.
func newContent(ctx context.Context, conf *config.SimConf) *content.Service {
	key := os.Getenv("GEMINI_API_KEY")
	if key == "" {
		log.Printf("GEMINI_API_KEY not set; using the scenario pool and dialogue fallbacks")
		return nil
	}
	g, err := content.NewGemini(ctx, key, conf.Model)
	if err != nil {
		log.Printf("WARNING: content generation disabled: %v", err)
		return nil
	}
	log.Printf("Content generation via %s", conf.Model)
	return content.NewService(g, conf)
}

func pickPersona(ctx context.Context, svc *content.Service, id string, generate bool) world.Persona {
	if generate && svc != nil {
		gctx, cancel := context.WithTimeout(ctx, 20*time.Second)
		defer cancel()
		ps, err := svc.GeneratePersonas(gctx, 3)
		if err == nil && len(ps) > 0 {
			log.Printf("Generated %d personas", len(ps))
			return ps[0]
		}
		log.Printf("WARNING: persona generation failed, using built-ins: %v", err)
	}
	if p, ok := npc.Lookup(id); ok {
		return p
	}
	var ids []string
	for _, p := range npc.Personas() {
		ids = append(ids, p.ID)
	}
	log.Fatalf("FATAL: unknown persona %q (choose from %s)", id, strings.Join(ids, ", "))
	return world.Persona{}
}
