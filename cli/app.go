package cli

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"tvremote/config"
	"tvremote/crypto"
	"tvremote/discovery"
	"tvremote/network"
	"tvremote/pairing"
	"tvremote/remote"
	"tvremote/storage"
	"tvremote/trust"
)

const dataDirEnv = config.DataDirEnv

// app holds the state every command that talks to a television needs.
type app struct {
	cfg     *config.ClientConfig
	cfgPath string
	dataDir string
	db      *storage.Store
	dbPath  string
	trust   *trust.Store
}

func openApp() (*app, error) {
	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if flagLogLevel == "" {
		applyLogLevel(cfg.Log.Level)
	}

	dataDir := filepath.Dir(cfgPath)
	db, dbPath, err := storage.Open(dataDir)
	if err != nil {
		return nil, fmt.Errorf("open keystore: %w", err)
	}
	db.SetSecurityEventRetention(cfg.Security.EventRetention)

	store := trust.Open(db, trust.Options{
		CommonName: crypto.CertificateName(cfg.ClientName, cfg.InstallID),
	})
	if err := store.EnsureIdentity(); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Debug().Str("config", cfgPath).Str("keystore", dbPath).Msg("client state loaded")
	return &app{
		cfg:     cfg,
		cfgPath: cfgPath,
		dataDir: dataDir,
		db:      db,
		dbPath:  dbPath,
		trust:   store,
	}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		log.Warn().Err(err).Msg("keystore close failed")
	}
}

func (a *app) supervisorOptions() remote.SupervisorOptions {
	return remote.SupervisorOptions{
		ClientName:  a.cfg.ClientName,
		MaxAttempts: a.cfg.Connection.MaxAttempts,
		RetryDelay:  a.cfg.Connection.RetryDelay,
		DialTimeout: a.cfg.Connection.DialTimeout,
		Pairing: pairing.Options{
			ServiceName:   a.cfg.Pairing.ServiceName,
			Codec:         network.CodecFor(a.cfg.Pairing.WireFormat),
			SecretTimeout: a.cfg.Pairing.SecretTimeout,
		},
		Channel: remote.ChannelOptions{
			Liveness: remote.LivenessOptions{
				Period:      a.cfg.Liveness.Period,
				MaxLostAcks: a.cfg.Liveness.MaxLostAcks,
			},
		},
	}
}

func (a *app) discoveryConfig() discovery.Config {
	return discovery.Config{
		Service:       a.cfg.Pairing.ServiceName,
		BroadcastPort: a.cfg.Discovery.BroadcastPort,
		ProbeInterval: a.cfg.Discovery.ProbeInterval,
		ScanTimeout:   a.cfg.Discovery.ScanTimeout,
		EnableMDNS:    a.cfg.Discovery.EnableMDNS,
	}
}
