package httpserver

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/sdko-org/api-proxy/internal/config"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// Server runs the plain HTTP listener and, when configured, an HTTPS
// listener with a self-signed certificate.
type Server struct {
	log     *logrus.Entry
	servers []*http.Server
}

func New(logger *logrus.Logger, cfg config.ListenConfig, handler http.Handler) (*Server, error) {
	if handler == nil {
		return nil, errors.New("httpserver: handler required")
	}

	s := &Server{log: logger.WithField("component", "http_server")}
	s.servers = append(s.servers, &http.Server{
		Addr:              cfg.Address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	})

	if cfg.TLSAddress != "" {
		cert, err := generateSelfSignedCert()
		if err != nil {
			return nil, fmt.Errorf("httpserver: self-signed certificate: %w", err)
		}
		s.servers = append(s.servers, &http.Server{
			Addr:              cfg.TLSAddress,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
			TLSConfig: &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			},
		})
	}
	return s, nil
}

// Run serves until ctx is cancelled or a listener fails, then shuts every
// listener down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, len(s.servers))

	for _, srv := range s.servers {
		go func(srv *http.Server) {
			var err error
			if srv.TLSConfig != nil {
				s.log.WithField("address", srv.Addr).Info("Starting HTTPS server")
				err = srv.ListenAndServeTLS("", "")
			} else {
				s.log.WithField("address", srv.Addr).Info("Starting HTTP server")
				err = srv.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("httpserver: listen %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range s.servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.WithError(err).Error("Server shutdown error")
		}
	}
	s.log.Info("Servers stopped")
	return runErr
}

func generateSelfSignedCert() (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"API Proxy"},
		},
		NotBefore: time.Now(),
		NotAfter:  time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:  x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth,
		},
		BasicConstraintsValid: true,
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: derBytes,
	})
	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	})

	return tls.X509KeyPair(certPEM, keyPEM)
}
