// main.go - l6skd: the l6sk log-ingestion daemon.
// Copyright (C) 2017  Yawning Angel.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kouritron/l6sk/internal/archive"
	"github.com/kouritron/l6sk/internal/config"
	"github.com/kouritron/l6sk/internal/dbl"
	"github.com/kouritron/l6sk/internal/httpapi"
	"github.com/kouritron/l6sk/internal/kdf"
	"github.com/kouritron/l6sk/internal/logging"
	"github.com/kouritron/l6sk/internal/uuidgen"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "l6skd:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		confPath = flag.String("config", "", "path to l6sk.toml (optional; defaults apply when absent)")
		port     = flag.Int("port", 1655, "HTTP listen port")
		debug    = flag.Bool("debug", false, "enable DEBUG-level logging")
	)
	flag.Parse()

	cfg, err := loadConfig(*confPath)
	if err != nil {
		return err
	}

	logLevel := "INFO"
	if *debug {
		logLevel = "DEBUG"
	} else if v, ok := cfg.String("logging_level"); ok {
		logLevel = v
	}
	log := logging.New("l6skd", os.Stdout, logLevel)

	dataDir, _ := cfg.String("server_data_dir")
	if dataDir == "" {
		dataDir = "./l6sk-data"
	}
	if err := os.MkdirAll(dataDir, os.ModeDir|0700); err != nil {
		return fmt.Errorf("l6skd: create data dir %s: %w", dataDir, err)
	}

	uuidVersionStr, _ := cfg.String("cu__uuid_version")
	uuidVersion, err := parseUUIDVersion(uuidVersionStr)
	if err != nil {
		return err
	}
	uuidNumBytes, err := cfg.PositiveInt("cu__uuid_num_bytes", 18)
	if err != nil {
		return err
	}
	uuids, err := uuidgen.New(uuidVersion, uuidNumBytes)
	if err != nil {
		return fmt.Errorf("l6skd: build uuid generator: %w", err)
	}

	arc, err := archive.Open(filepath.Join(dataDir, "archive.bbolt"))
	if err != nil {
		return fmt.Errorf("l6skd: open archive: %w", err)
	}
	defer arc.Close()

	nodeID, err := arc.NodeIdentity(uuids)
	if err != nil {
		return fmt.Errorf("l6skd: load node identity: %w", err)
	}
	log.Noticef("l6skd node identifier is: %s", nodeID)

	authKDF, err := buildKDF(cfg)
	if err != nil {
		return fmt.Errorf("l6skd: build auth kdf: %w", err)
	}

	idleThreshold, err := cfg.PositiveInt("dbl_dispatch_idle_counter_threshold", 1000)
	if err != nil {
		return err
	}
	idleSleepSec, ok := cfg.Float("dbl_worker_thread_sleep_wait_timeout")
	if !ok {
		idleSleepSec = 0.005
	}
	idleSleep := time.Duration(idleSleepSec * float64(time.Second))

	dispatchCapacity, _ := cfg.Int("dbl_dispatch_queue_capacity")

	var factory dbl.DAOFactory
	driver, _ := cfg.String("dbl_dao_driver")
	switch driver {
	case "sqlite":
		sqlitePath := filepath.Join(dataDir, "l6sk.db")
		if v, ok := cfg.String("dbl_sqlite_path"); ok && v != "" {
			sqlitePath = v
		}
		if clean, ok := cfg.Bool("dbl_sqlite_clean_start"); ok && clean {
			if rmErr := os.Remove(sqlitePath); rmErr != nil && !os.IsNotExist(rmErr) {
				log.Warningf("l6skd: clean start: remove %s: %v", sqlitePath, rmErr)
			}
		}
		reconnectSec, ok := cfg.Float("dao_sqlite_reconnect_delay")
		if !ok || reconnectSec <= 0 {
			reconnectSec = 0.2
		}
		reconnectDelay := time.Duration(reconnectSec * float64(time.Second))
		factory = dbl.NewSqliteDAOFactory(sqlitePath, reconnectDelay, authKDF, uuids, log, arc)
	default:
		factory = dbl.NewMemDAOFactory(authKDF, uuids)
	}

	bank := dbl.NewDispatchBank(dispatchCapacity)
	worker := dbl.NewWorker(bank, factory, log, idleThreshold, idleSleep)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workerDone := make(chan error, 1)
	go func() { workerDone <- worker.Run(ctx) }()

	srv := httpapi.NewServer(bank, log, time.Millisecond, 10*time.Second)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: srv,
	}

	httpDone := make(chan error, 1)
	go func() {
		log.Noticef("l6skd listening on %s", httpServer.Addr)
		httpDone <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var runErr error
	workerExited := false

	select {
	case sig := <-sigCh:
		log.Noticef("l6skd received signal %v, shutting down", sig)
	case err := <-httpDone:
		if err != nil && err != http.ErrServerClosed {
			log.Errorf("l6skd: http server: %v", err)
			runErr = err
		}
	case err := <-workerDone:
		workerExited = true
		if err != nil {
			log.Errorf("l6skd: worker: %v", err)
			runErr = err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warningf("l6skd: http shutdown: %v", err)
	}

	cancel()
	bank.Close()
	// workerDone already fired and drained its one buffered send above; a
	// second receive here would block forever.
	if !workerExited {
		<-workerDone
	}

	log.Notice("l6skd shutdown complete")
	return runErr
}

// parseUUIDVersion maps the CU__UUID_VERSION knob to a uuidgen.Version,
// defaulting to V3 (the strongest of the three constructions) when the
// knob is absent.
func parseUUIDVersion(s string) (uuidgen.Version, error) {
	switch s {
	case "", "v3":
		return uuidgen.V3, nil
	case "v1":
		return uuidgen.V1, nil
	case "v2":
		return uuidgen.V2, nil
	default:
		return 0, fmt.Errorf("l6skd: unknown cu__uuid_version %q", s)
	}
}

func loadConfig(path string) (*config.Registry, error) {
	if path == "" {
		return config.LoadBytes(nil)
	}
	return config.Load(path)
}

func buildKDF(cfg *config.Registry) (*kdf.AuthKDF, error) {
	methodStr, ok := cfg.String("cu_auth_kdf__method")
	if !ok {
		methodStr = "scrypt"
	}
	method, err := kdf.ParseMethod(methodStr)
	if err != nil {
		return nil, err
	}

	salt, ok := cfg.Bytes("cu_auth_kdf__salt")
	if !ok {
		salt = []byte("l6sk-default-development-salt")
	}

	dklen, err := cfg.PositiveInt("cu_auth_kdf__dklen", 18)
	if err != nil {
		return nil, err
	}
	scryptN, err := cfg.PositiveInt("cu_auth_kdf__scrypt_n", 16384)
	if err != nil {
		return nil, err
	}
	scryptR, err := cfg.PositiveInt("cu_auth_kdf__scrypt_r", 8)
	if err != nil {
		return nil, err
	}
	pbkdf2Iters, err := cfg.PositiveInt("cu_auth_kdf__pbkdf2_hmac_iterations", 100000)
	if err != nil {
		return nil, err
	}

	return kdf.New(kdf.Params{
		Salt:        salt,
		ScryptN:     scryptN,
		ScryptR:     scryptR,
		PBKDF2Iters: pbkdf2Iters,
		DKLen:       dklen,
		Method:      method,
	})
}
