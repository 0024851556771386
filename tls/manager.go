package tls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme"
	"golang.org/x/crypto/acme/autocert"

	"github.com/outlawai/outlaw-service/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

var defaultCipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
}

// CertManager terminates TLS for the HTTP server. It serves either a
// manual cert/key pair or ACME certificates through autocert, which
// renews on its own during the TLS handshake path.
type CertManager struct {
	ctx          context.Context
	cancel       context.CancelFunc
	logger       types.Logger
	config       *types.TLSConfig
	autocertMgr  *autocert.Manager
	mu           sync.RWMutex
	certificates map[string]*tls.Certificate
	state        atomic.Value
}

func NewCertManager(ctx context.Context, logger types.Logger, config types.ConfigManager) (types.TLSManager, error) {
	var tlsConfig *types.TLSConfig
	if serviceConfig := config.GetConfig(); serviceConfig != nil && serviceConfig.Server != nil {
		tlsConfig = serviceConfig.Server.TLS
	}

	managerCtx, cancel := context.WithCancel(ctx)

	cm := &CertManager{
		ctx:          managerCtx,
		cancel:       cancel,
		logger:       logger,
		config:       tlsConfig,
		certificates: make(map[string]*tls.Certificate),
	}

	cm.state.Store(StateStopped)

	if tlsConfig != nil && tlsConfig.AutoCert {
		if err := cm.initializeAutocert(); err != nil {
			cancel()
			return nil, types.WrapError(err, "failed to initialize autocert manager")
		}
	}

	return cm, nil
}

func (cm *CertManager) Start() error {
	if !cm.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	defer func() {
		if cm.getState() == StateStarting {
			cm.setState(StateRunning)
		}
	}()

	if cm.config == nil || !cm.config.Enabled {
		cm.logger.Debug("TLS disabled, certificate manager idle")
		return nil
	}

	if cm.config.AutoCert {
		cm.preloadCertificates()
		cm.logger.Info("TLS certificate manager started",
			zap.Strings("domains", cm.config.Domains))
		return nil
	}

	cert, err := cm.loadManualCertificate()
	if err != nil {
		cm.setState(StateStopped)
		return err
	}

	cm.storeCertificate(manualCertKey(cert), cert)
	cm.logger.Info("TLS certificate manager started",
		zap.String("cert_file", cm.config.CertFile))

	return nil
}

func (cm *CertManager) Stop() error {
	if !cm.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		cm.setState(StateStopped)
		cm.cancel()
	}()

	cm.logger.Info("TLS certificate manager stopped gracefully")

	return nil
}

func (cm *CertManager) IsRunning() bool {
	return cm.getState() == StateRunning
}

func (cm *CertManager) getState() State {
	return cm.state.Load().(State)
}

func (cm *CertManager) setState(newState State) bool {
	return cm.state.CompareAndSwap(cm.getState(), newState)
}

func (cm *CertManager) transitionState(from, to State) bool {
	return cm.state.CompareAndSwap(from, to)
}

// Serve returns a TLS listener on addr using the configured
// certificate source.
func (cm *CertManager) Serve(addr string) (net.Listener, error) {
	if !cm.IsRunning() {
		return nil, types.ErrServerNotRunning
	}

	tlsConfig := cm.GetTLSConfig()
	if tlsConfig == nil {
		return nil, types.NewErrorf("no TLS configuration available")
	}

	ln, err := tls.Listen("tcp", addr, tlsConfig)
	if err != nil {
		return nil, types.WrapError(err, "failed to create TLS listener")
	}

	return ln, nil
}

func (cm *CertManager) GetTLSConfig() *tls.Config {
	tlsConfig := &tls.Config{
		NextProtos:   []string{"h2", "http/1.1"},
		MinVersion:   tls.VersionTLS12,
		CipherSuites: defaultCipherSuites,
	}

	if cm.config != nil && cm.config.AutoCert {
		if cm.autocertMgr == nil {
			return nil
		}
		tlsConfig.GetCertificate = cm.autocertMgr.GetCertificate
		return tlsConfig
	}

	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if len(cm.certificates) == 0 {
		return nil
	}

	certs := make([]tls.Certificate, 0, len(cm.certificates))
	for _, cert := range cm.certificates {
		certs = append(certs, *cert)
	}
	tlsConfig.Certificates = certs

	return tlsConfig
}

func (cm *CertManager) initializeAutocert() error {
	if len(cm.config.Domains) == 0 {
		return types.NewErrorf("no domains specified for TLS certificate")
	}

	cacheDir := cm.config.CacheDir
	if cacheDir == "" {
		cacheDir = "./certs"
	}

	if err := os.MkdirAll(cacheDir, 0700); err != nil {
		return types.WrapError(err, "failed to create certificate cache directory")
	}

	cm.autocertMgr = &autocert.Manager{
		Cache:      autocert.DirCache(cacheDir),
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(cm.config.Domains...),
		Email:      cm.config.Email,
	}

	if cm.config.ACMEDirectory != "" {
		cm.autocertMgr.Client = &acme.Client{
			DirectoryURL: cm.config.ACMEDirectory,
		}
	}

	return nil
}

func (cm *CertManager) loadManualCertificate() (*tls.Certificate, error) {
	if cm.config.CertFile == "" || cm.config.KeyFile == "" {
		return nil, types.NewErrorf("TLS enabled but cert_file or key_file not specified")
	}

	cert, err := tls.LoadX509KeyPair(cm.config.CertFile, cm.config.KeyFile)
	if err != nil {
		return nil, types.WrapError(err, "failed to load certificate files")
	}

	if err := validateCertificate(cert); err != nil {
		return nil, err
	}

	return &cert, nil
}

// preloadCertificates warms the autocert cache so the first request
// does not pay the ACME round trip. Failures are logged, issuance
// retries on the live handshake.
func (cm *CertManager) preloadCertificates() {
	for _, domain := range cm.config.Domains {
		hello := &tls.ClientHelloInfo{ServerName: domain}

		cert, err := cm.autocertMgr.GetCertificate(hello)
		if err != nil {
			cm.logger.Warn("Failed to preload certificate",
				zap.String("domain", domain),
				zap.Error(err))
			continue
		}

		cm.storeCertificate(domain, cert)
		cm.logger.Info("Certificate preloaded successfully",
			zap.String("domain", domain))
	}
}

func (cm *CertManager) storeCertificate(domain string, cert *tls.Certificate) {
	cm.mu.Lock()
	cm.certificates[domain] = cert
	cm.mu.Unlock()
}

func (cm *CertManager) GetCertificateStatus() map[string]types.CertificateStatus {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	status := make(map[string]types.CertificateStatus)

	for domain, cert := range cm.certificates {
		if len(cert.Certificate) == 0 {
			status[domain] = types.CertificateStatus{
				Domain: domain,
				Status: "error",
				Error:  "no certificate data",
			}
			continue
		}

		x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			status[domain] = types.CertificateStatus{
				Domain: domain,
				Status: "error",
				Error:  err.Error(),
			}
			continue
		}

		certStatus := "valid"
		daysUntilExpiry := int(time.Until(x509Cert.NotAfter).Hours() / 24)

		if daysUntilExpiry <= 0 {
			certStatus = "expired"
		} else if daysUntilExpiry <= 30 {
			certStatus = "expiring_soon"
		}

		status[domain] = types.CertificateStatus{
			Domain:          domain,
			Status:          certStatus,
			Issuer:          x509Cert.Issuer.String(),
			Subject:         x509Cert.Subject.String(),
			NotBefore:       x509Cert.NotBefore,
			NotAfter:        x509Cert.NotAfter,
			DaysUntilExpiry: daysUntilExpiry,
		}
	}

	return status
}

func validateCertificate(cert tls.Certificate) error {
	x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return types.WrapError(err, "failed to parse certificate")
	}

	now := time.Now()
	if now.Before(x509Cert.NotBefore) {
		return types.NewErrorf("certificate not yet valid")
	}
	if now.After(x509Cert.NotAfter) {
		return types.NewErrorf("certificate expired")
	}

	return nil
}

func manualCertKey(cert *tls.Certificate) string {
	if x509Cert, err := x509.ParseCertificate(cert.Certificate[0]); err == nil {
		if cn := x509Cert.Subject.CommonName; cn != "" {
			return cn
		}
		if len(x509Cert.DNSNames) > 0 {
			return x509Cert.DNSNames[0]
		}
	}
	return "default"
}
