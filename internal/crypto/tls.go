/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Gateway client TLS configuration.

VERIFICATION MODES:
===================
 1. Default: the gateway certificate must chain to the CA file (or the system
    roots) and match the dialled host name.
 2. Subject override: the chain is verified but, instead of the host name, the
    leaf certificate's common name must equal the configured subject. Used when
    gateways are reached through addresses that are not in their certificates.
 3. Hostname verification disabled: the chain is verified, the name is not.

Modes 2 and 3 replace the standard name check with VerifyPeerCertificate, so
InsecureSkipVerify is set but chain verification still happens.

SECURITY DEFAULTS:
==================
- Minimum TLS version: 1.2
*/
package crypto

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

var (
	// ErrInvalidCertificate is returned when the certificate is invalid.
	ErrInvalidCertificate = errors.New("tls: invalid certificate")

	// ErrCANotFound is returned when the CA certificate file cannot be read.
	ErrCANotFound = errors.New("tls: CA certificate file not found")

	// ErrSubjectMismatch is returned when the gateway certificate common name
	// differs from the configured subject.
	ErrSubjectMismatch = errors.New("tls: gateway certificate subject mismatch")
)

// TLSConfig holds gateway client TLS options.
type TLSConfig struct {
	// CAFile is the path to the CA certificate file (PEM). System roots when empty.
	CAFile string

	// ServerName overrides the name sent in SNI and checked in default mode.
	ServerName string

	// DisableHostnameVerification skips the host name check.
	DisableHostnameVerification bool

	// ExpectedSubject, when set, must equal the leaf certificate common name.
	ExpectedSubject string

	// MinVersion is the minimum TLS version (default: TLS 1.2).
	MinVersion uint16
}

// NewClientTLSConfig creates a TLS configuration for gateway connections.
func NewClientTLSConfig(cfg TLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: cfg.ServerName,
	}
	if cfg.MinVersion != 0 {
		tlsConfig.MinVersion = cfg.MinVersion
	}

	if cfg.CAFile != "" {
		caCert, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrCANotFound, cfg.CAFile)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, ErrInvalidCertificate
		}
		tlsConfig.RootCAs = caCertPool
	}

	if cfg.DisableHostnameVerification || cfg.ExpectedSubject != "" {
		tlsConfig.InsecureSkipVerify = true
		tlsConfig.VerifyPeerCertificate = peerVerifier(tlsConfig.RootCAs, cfg.ExpectedSubject)
	}
	return tlsConfig, nil
}

// peerVerifier verifies the presented chain against roots without a DNS name
// check, then compares the leaf common name with subject when it is set.
func peerVerifier(roots *x509.CertPool, subject string) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("%w: no certificate presented", ErrInvalidCertificate)
		}
		certs := make([]*x509.Certificate, 0, len(rawCerts))
		for _, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
			}
			certs = append(certs, cert)
		}

		intermediates := x509.NewCertPool()
		for _, cert := range certs[1:] {
			intermediates.AddCert(cert)
		}
		leaf := certs[0]
		if _, err := leaf.Verify(x509.VerifyOptions{
			Roots:         roots,
			Intermediates: intermediates,
		}); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
		}

		if subject != "" && leaf.Subject.CommonName != subject {
			return fmt.Errorf("%w: got %q, want %q", ErrSubjectMismatch, leaf.Subject.CommonName, subject)
		}
		return nil
	}
}
