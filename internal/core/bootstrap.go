package core

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/seatworks/seatidp/internal/crypto"
	"github.com/seatworks/seatidp/internal/directory"
	"github.com/seatworks/seatidp/internal/identity"
	"github.com/seatworks/seatidp/internal/storage"
	"github.com/seatworks/seatidp/internal/tokens"
)

// BootstrapResult holds the initialized shared dependencies.
type BootstrapResult struct {
	Config    *Config
	Log       *logrus.Logger
	Store     *storage.Store
	Keys      *crypto.KeyManager
	JWT       *crypto.JWTService
	Claims    *identity.Provider
	Issuer    *tokens.Issuer
	Directory *directory.Service
}

// Bootstrap opens storage and wires the protocol engines' shared
// dependencies.
func Bootstrap(cfg *Config) (*BootstrapResult, error) {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if cfg.Debug {
		log.SetLevel(logrus.DebugLevel)
	}

	store, err := storage.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	keys, err := crypto.NewKeyManager(store, cfg.DefaultAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize key manager: %w", err)
	}

	jwtService := crypto.NewJWTService(keys, cfg.BaseURL)
	claims := identity.NewProvider(cfg.EmailDomain)

	issuer := tokens.NewIssuer(store, jwtService, claims, tokens.Config{
		AccessTokenTTL:  cfg.AccessTokenTTL,
		RefreshTokenTTL: cfg.RefreshTokenTTL,
		AuthCodeTTL:     cfg.AuthCodeTTL,
	}, log.WithField("component", "tokens"))

	dir := directory.NewService(store, cfg.SessionTTL, cfg.SecureCookies, log.WithField("component", "directory"))

	log.WithFields(logrus.Fields{
		"issuer":    cfg.BaseURL,
		"algorithm": cfg.DefaultAlgorithm,
	}).Info("identity provider initialized")

	return &BootstrapResult{
		Config:    cfg,
		Log:       log,
		Store:     store,
		Keys:      keys,
		JWT:       jwtService,
		Claims:    claims,
		Issuer:    issuer,
		Directory: dir,
	}, nil
}
