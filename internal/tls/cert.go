// SPDX-License-Identifier: MIT

// Package tls generates self-signed certificates so the daemon can serve
// HTTPS on a LAN without an operator-managed PKI.
package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
)

// certValidityYears is the validity period for generated certificates.
const certValidityYears = 10

// Config holds certificate generation settings.
type Config struct {
	CertPath string
	KeyPath  string
	Logger   zerolog.Logger
}

// EnsureCertificates returns the configured certificate pair, generating a
// self-signed one when either file is missing. An incomplete pair is
// regenerated as a whole.
func EnsureCertificates(cfg Config) (certPath, keyPath string, err error) {
	certPath = cfg.CertPath
	keyPath = cfg.KeyPath
	if certPath == "" || keyPath == "" {
		return "", "", fmt.Errorf("tls: cert and key paths are required")
	}

	certExists := fileExists(certPath)
	keyExists := fileExists(keyPath)

	if certExists && keyExists {
		cfg.Logger.Debug().
			Str("cert", certPath).
			Str("key", keyPath).
			Msg("TLS certificates found")
		return certPath, keyPath, nil
	}

	if certExists || keyExists {
		cfg.Logger.Warn().
			Bool("cert_exists", certExists).
			Bool("key_exists", keyExists).
			Msg("incomplete TLS certificate pair, regenerating both")
	}

	// SANs cover localhost plus every routable interface address, so the
	// certificate works for LAN clients out of the box.
	ips, err := networkIPs()
	if err != nil {
		cfg.Logger.Warn().
			Err(err).
			Msg("could not detect network IPs, certificate will only cover localhost")
		ips = nil
	}

	if err := GenerateSelfSigned(certPath, keyPath, ips); err != nil {
		return "", "", fmt.Errorf("tls: generate self-signed pair: %w", err)
	}

	cfg.Logger.Info().
		Str("cert", certPath).
		Str("key", keyPath).
		Int("network_ips", len(ips)).
		Msg("generated self-signed TLS certificates")

	return certPath, keyPath, nil
}

// GenerateSelfSigned writes an ECDSA P-256 self-signed certificate and key.
// extraIPs are added to the localhost SANs. Both files are installed
// atomically; the key is written 0600.
func GenerateSelfSigned(certPath, keyPath string, extraIPs []net.IP) error {
	if err := os.MkdirAll(filepath.Dir(certPath), 0o750); err != nil {
		return fmt.Errorf("create cert directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0o750); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generate private key: %w", err)
	}

	serialLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, serialLimit)
	if err != nil {
		return fmt.Errorf("generate serial number: %w", err)
	}

	notBefore := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"touchstream Self-Signed"},
			CommonName:   "touchstream",
		},
		NotBefore:             notBefore,
		NotAfter:              notBefore.AddDate(certValidityYears, 0, 0),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           dedupeIPs(append(defaultIPs(), extraIPs...)),
		DNSNames:              []string{"localhost", "localhost.localdomain", "touchstream"},
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("create certificate: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := renameio.WriteFile(certPath, certPEM, 0o644); err != nil {
		return fmt.Errorf("install certificate: %w", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return fmt.Errorf("marshal private key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	if err := renameio.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return fmt.Errorf("install private key: %w", err)
	}

	return nil
}

func defaultIPs() []net.IP {
	return []net.IP{
		net.ParseIP("127.0.0.1"),
		net.ParseIP("::1"),
	}
}

func dedupeIPs(ips []net.IP) []net.IP {
	seen := make(map[string]bool, len(ips))
	out := make([]net.IP, 0, len(ips))
	for _, ip := range ips {
		if ip == nil || seen[ip.String()] {
			continue
		}
		seen[ip.String()] = true
		out = append(out, ip)
	}
	return out
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// networkIPs returns the routable addresses of every up interface, skipping
// loopback and link-local ranges (the defaults already cover loopback).
func networkIPs() ([]net.IP, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list network interfaces: %w", err)
	}

	var ips []net.IP
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
				continue
			}
			ips = append(ips, ip)
		}
	}
	return ips, nil
}
