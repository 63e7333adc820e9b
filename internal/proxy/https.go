package proxy

import (
	"crypto/tls"
	"fmt"
	"net"
	"strings"

	"github.com/elazarl/goproxy"
	"github.com/sirupsen/logrus"

	"github.com/iTrooz/offline-worker/internal/config"
)

func loadCertificate(cfg *config.Config) (*tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(cfg.Server.HTTPS.CACertFile, cfg.Server.HTTPS.CAKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load CA certificate and key: %w", err)
	}
	logrus.Debugf("Loaded CA certificate from %s", cfg.Server.HTTPS.CACertFile)
	return &cert, nil
}

// setupHTTPSProxyHandler intercepts CONNECT tunnels to the origin so that the
// worker sees its requests. Tunnels to any other host are left untouched.
func (s *Server) setupHTTPSProxyHandler() {
	caCert, err := loadCertificate(s.config)
	if err != nil {
		logrus.Errorf("Failed to load CA certificate, HTTPS traffic will not be cached: %v", err)
		return
	}

	s.proxy.CertStore = newCertStore()

	originMitm := &goproxy.ConnectAction{
		Action:    goproxy.ConnectMitm,
		TLSConfig: goproxy.TLSConfigFromCA(caCert),
	}
	originOnly := goproxy.FuncHttpsHandler(func(host string, ctx *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
		if !s.isOriginHost(host) {
			return goproxy.OkConnect, host
		}
		logrus.Debugf("Intercepting CONNECT request for %s", host)
		return originMitm, host
	})
	s.proxy.OnRequest().HandleConnect(originOnly)
}

// isOriginHost compares a CONNECT target (host:port) with the origin
func (s *Server) isOriginHost(hostport string) bool {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		host, port = hostport, "443"
	}

	originPort := s.origin.Port()
	if originPort == "" {
		originPort = "443"
	}
	return s.origin.Scheme == "https" && strings.EqualFold(host, s.origin.Hostname()) && port == originPort
}
