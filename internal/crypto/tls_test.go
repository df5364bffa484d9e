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

package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// selfSigned writes a self-signed certificate with the given common name to
// a PEM file and returns its path and DER bytes.
func selfSigned(t *testing.T, commonName string) (string, []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "ca.pem")
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(path, pemBytes, 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path, der
}

func TestNewClientTLSConfigDefault(t *testing.T) {
	tlsConfig, err := NewClientTLSConfig(TLSConfig{ServerName: "gw.local"})
	if err != nil {
		t.Fatalf("NewClientTLSConfig failed: %v", err)
	}
	if tlsConfig.InsecureSkipVerify {
		t.Error("Expected standard verification by default")
	}
	if tlsConfig.VerifyPeerCertificate != nil {
		t.Error("Expected no custom verifier by default")
	}
	if tlsConfig.ServerName != "gw.local" {
		t.Errorf("Expected ServerName gw.local, got %s", tlsConfig.ServerName)
	}
}

func TestNewClientTLSConfigCANotFound(t *testing.T) {
	_, err := NewClientTLSConfig(TLSConfig{CAFile: "/nonexistent/ca.pem"})
	if !errors.Is(err, ErrCANotFound) {
		t.Errorf("Expected ErrCANotFound, got %v", err)
	}
}

func TestNewClientTLSConfigInvalidCA(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pem")
	if err := os.WriteFile(path, []byte("not a certificate"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := NewClientTLSConfig(TLSConfig{CAFile: path}); err != ErrInvalidCertificate {
		t.Errorf("Expected ErrInvalidCertificate, got %v", err)
	}
}

func TestSubjectOverride(t *testing.T) {
	caFile, der := selfSigned(t, "SMGATEWAY")

	tests := []struct {
		name    string
		subject string
		wantErr error
	}{
		{"matching subject", "SMGATEWAY", nil},
		{"other subject", "OTHER", ErrSubjectMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tlsConfig, err := NewClientTLSConfig(TLSConfig{CAFile: caFile, ExpectedSubject: tt.subject})
			if err != nil {
				t.Fatalf("NewClientTLSConfig failed: %v", err)
			}
			if !tlsConfig.InsecureSkipVerify || tlsConfig.VerifyPeerCertificate == nil {
				t.Fatal("Expected custom verifier for subject override")
			}
			err = tlsConfig.VerifyPeerCertificate([][]byte{der}, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("VerifyPeerCertificate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestHostnameVerificationDisabledStillChecksChain(t *testing.T) {
	caFile, _ := selfSigned(t, "TRUSTED")
	_, untrusted := selfSigned(t, "ROGUE")

	tlsConfig, err := NewClientTLSConfig(TLSConfig{CAFile: caFile, DisableHostnameVerification: true})
	if err != nil {
		t.Fatalf("NewClientTLSConfig failed: %v", err)
	}
	if err := tlsConfig.VerifyPeerCertificate([][]byte{untrusted}, nil); !errors.Is(err, ErrInvalidCertificate) {
		t.Errorf("Expected ErrInvalidCertificate for untrusted chain, got %v", err)
	}
	if err := tlsConfig.VerifyPeerCertificate(nil, nil); !errors.Is(err, ErrInvalidCertificate) {
		t.Errorf("Expected ErrInvalidCertificate for empty chain, got %v", err)
	}
}
