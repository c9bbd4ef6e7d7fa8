/*
Copyright 2019 The Vitess Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package vttls contains utility functions for loading
// certificates and building TLS configurations.
package vttls

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/pflag"
)

// SslMode indicates the type of SSL mode to use. This matches
// the MySQL ssl-mode parameter.
type SslMode string

// Disabled disables SSL and connects over plain text.
const Disabled SslMode = "disabled"

// Preferred establishes an SSL connection if the server supports it.
// It does not validate the server certificate.
const Preferred SslMode = "preferred"

// Required requires an SSL connection to the server.
// It does not validate the server certificate.
const Required SslMode = "required"

// VerifyCA requires an SSL connection to the server.
// It validates the CA against the configured CA certificate(s).
const VerifyCA SslMode = "verify_ca"

// VerifyIdentity requires an SSL connection to the server.
// It validates the CA against the configured CA certificate(s) and
// also validates the certificate based on the hostname.
const VerifyIdentity SslMode = "verify_identity"

// String returns the string representation, part of the pflag.Value interface.
func (mode *SslMode) String() string {
	return string(*mode)
}

// Set updates the value of the SslMode pointer, part of the pflag.Value interface.
func (mode *SslMode) Set(value string) error {
	parsedMode := SslMode(strings.ToLower(value))
	switch parsedMode {
	case "", Disabled, Preferred, Required, VerifyCA, VerifyIdentity:
		*mode = parsedMode
		return nil
	}
	return fmt.Errorf("invalid SslMode %q: valid values are %s, %s, %s, %s, %s",
		value, Disabled, Preferred, Required, VerifyCA, VerifyIdentity)
}

// Type is part of the pflag.Value interface.
func (mode *SslMode) Type() string {
	return "SslMode"
}

var _ pflag.Value = (*SslMode)(nil)

// TLSVersionToNumber converts a text description of the TLS protocol
// to the internal Go number representation.
func TLSVersionToNumber(tlsVersion string) (uint16, error) {
	switch strings.ToLower(tlsVersion) {
	case "tlsv1.3":
		return tls.VersionTLS13, nil
	case "", "tlsv1.2":
		return tls.VersionTLS12, nil
	case "tlsv1.1":
		return tls.VersionTLS11, nil
	case "tlsv1.0":
		return tls.VersionTLS10, nil
	default:
		return tls.VersionTLS12, fmt.Errorf("unknown TLS version: %v", tlsVersion)
	}
}

var onceByKeys = sync.Map{}

// ClientConfig returns the TLS config to use for a client to
// connect to a server with the provided parameters.
func ClientConfig(mode SslMode, cert, key, ca, crl, name string, minTLSVersion uint16) (*tls.Config, error) {
	config := &tls.Config{
		MinVersion: minTLSVersion,
	}

	// Load the client-side cert & key if any.
	if cert != "" && key != "" {
		certificates, err := loadTLSCertificate(cert, key)
		if err != nil {
			return nil, err
		}
		config.Certificates = *certificates
	}

	// Load the server CA if any.
	if ca != "" {
		certificatePool, err := loadx509CertPool(ca)
		if err != nil {
			return nil, err
		}
		config.RootCAs = certificatePool
	}

	// Set the server name if any.
	if name != "" {
		config.ServerName = name
	}

	switch mode {
	case Disabled:
		return nil, fmt.Errorf("can't create config for disabled mode")
	case Preferred, Required:
		config.InsecureSkipVerify = true
	case VerifyCA:
		// Verify the server cert chain against the CA, but skip
		// hostname verification. InsecureSkipVerify turns off both,
		// so hook chain validation back in manually.
		config.InsecureSkipVerify = true
		config.VerifyConnection = func(cs tls.ConnectionState) error {
			caCerts := config.RootCAs
			if caCerts == nil {
				var err error
				caCerts, err = x509.SystemCertPool()
				if err != nil {
					return err
				}
			}
			opts := x509.VerifyOptions{
				Roots:         caCerts,
				Intermediates: x509.NewCertPool(),
			}
			for _, cert := range cs.PeerCertificates[1:] {
				opts.Intermediates.AddCert(cert)
			}
			_, err := cs.PeerCertificates[0].Verify(opts)
			return err
		}
	case VerifyIdentity:
		// Nothing to do, default config verifies chain and hostname.
	default:
		return nil, fmt.Errorf("insecure mode %q is not valid for client connections", mode)
	}

	if crl != "" {
		crlFunc, err := verifyPeerCertificateAgainstCRL(crl)
		if err != nil {
			return nil, err
		}
		config.VerifyPeerCertificate = crlFunc
	}

	return config, nil
}

// ServerConfig returns the TLS config to use for a server to
// accept client connections.
func ServerConfig(cert, key, ca, crl, serverCA string, minTLSVersion uint16) (*tls.Config, error) {
	config := &tls.Config{
		MinVersion: minTLSVersion,
	}

	var certificates *[]tls.Certificate
	var err error

	if serverCA != "" {
		certificates, err = combineAndLoadTLSCertificates(serverCA, cert, key)
	} else {
		certificates, err = loadTLSCertificate(cert, key)
	}

	if err != nil {
		return nil, err
	}
	config.Certificates = *certificates

	// If the CA is configured, require client certs and verify them.
	if ca != "" {
		certificatePool, err := loadx509CertPool(ca)
		if err != nil {
			return nil, err
		}
		config.ClientCAs = certificatePool
		config.ClientAuth = tls.RequireAndVerifyClientCert
	}

	if crl != "" {
		crlFunc, err := verifyPeerCertificateAgainstCRL(crl)
		if err != nil {
			return nil, err
		}
		config.VerifyPeerCertificate = crlFunc
	}

	return config, nil
}

var certPools = sync.Map{}

func loadx509CertPool(ca string) (*x509.CertPool, error) {
	once, _ := onceByKeys.LoadOrStore(ca, &sync.Once{})

	var err error
	once.(*sync.Once).Do(func() {
		err = doLoadx509CertPool(ca)
	})
	if err != nil {
		return nil, err
	}

	result, ok := certPools.Load(ca)
	if !ok {
		return nil, fmt.Errorf("could not find cached CA certificate pool for: %v", ca)
	}
	return result.(*x509.CertPool), nil
}

func doLoadx509CertPool(ca string) error {
	b, err := os.ReadFile(ca)
	if err != nil {
		return fmt.Errorf("failed to read ca file: %v", ca)
	}

	// Create the certificate pool.
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(b) {
		return fmt.Errorf("failed to append certificates")
	}

	certPools.Store(ca, pool)
	return nil
}

var tlsCertificates = sync.Map{}

func tlsCertificatesIdentifier(tokens ...string) string {
	return strings.Join(tokens, ";")
}

func loadTLSCertificate(cert, key string) (*[]tls.Certificate, error) {
	tlsIdentifier := tlsCertificatesIdentifier(cert, key)
	once, _ := onceByKeys.LoadOrStore(tlsIdentifier, &sync.Once{})

	var err error
	once.(*sync.Once).Do(func() {
		err = doLoadTLSCertificate(cert, key)
	})
	if err != nil {
		return nil, err
	}

	result, ok := tlsCertificates.Load(tlsIdentifier)
	if !ok {
		return nil, fmt.Errorf("could not find cached certificate for: %s", tlsIdentifier)
	}
	return result.(*[]tls.Certificate), nil
}

func doLoadTLSCertificate(cert, key string) error {
	crt, err := tls.LoadX509KeyPair(cert, key)
	if err != nil {
		return fmt.Errorf("failed to load tls certificate, cert %s, key: %s", cert, key)
	}

	certificates := []tls.Certificate{crt}
	tlsCertificates.Store(tlsCertificatesIdentifier(cert, key), &certificates)
	return nil
}

var combinedTLSCertificates = sync.Map{}

func combineAndLoadTLSCertificates(ca, cert, key string) (*[]tls.Certificate, error) {
	combinedTLSIdentifier := tlsCertificatesIdentifier(ca, cert, key)
	once, _ := onceByKeys.LoadOrStore(combinedTLSIdentifier, &sync.Once{})

	var err error
	once.(*sync.Once).Do(func() {
		err = doLoadAndCombineTLSCertificates(ca, cert, key)
	})
	if err != nil {
		return nil, err
	}

	result, ok := combinedTLSCertificates.Load(combinedTLSIdentifier)
	if !ok {
		return nil, fmt.Errorf("could not find cached certificate for: %s", combinedTLSIdentifier)
	}
	return result.(*[]tls.Certificate), nil
}

func doLoadAndCombineTLSCertificates(ca, cert, key string) error {
	// Read CA certificates chain.
	caB, err := os.ReadFile(ca)
	if err != nil {
		return fmt.Errorf("failed to read ca file: %s", ca)
	}

	// Read server certificate.
	certB, err := os.ReadFile(cert)
	if err != nil {
		return fmt.Errorf("failed to read server cert file: %s", cert)
	}

	// Read server key file.
	keyB, err := os.ReadFile(key)
	if err != nil {
		return fmt.Errorf("failed to read key file: %s", key)
	}

	// Load CA, server cert and key.
	var certificate []tls.Certificate
	crt, err := tls.X509KeyPair(append(certB, caB...), keyB)
	if err != nil {
		return fmt.Errorf("failed to load and merge tls certificate with CA, ca %s, cert %s, key: %s", ca, cert, key)
	}
	certificate = []tls.Certificate{crt}

	combinedTLSCertificates.Store(tlsCertificatesIdentifier(ca, cert, key), &certificate)
	return nil
}

func verifyPeerCertificateAgainstCRL(crl string) (func([][]byte, [][]*x509.Certificate) error, error) {
	validatePairs, err := loadCRLs(crl)
	if err != nil {
		return nil, err
	}

	return func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error {
		for _, chain := range verifiedChains {
			for i := 0; i < len(chain)-1; i++ {
				crtToCheck := chain[i]
				issuerCrt := chain[i+1]
				for _, crl := range validatePairs {
					if err := crl.CheckCertRevocation(crtToCheck, issuerCrt); err != nil {
						return err
					}
				}
			}
		}
		return nil
	}, nil
}

type crlValidatePair struct {
	crl *x509.RevocationList
}

// CheckCertRevocation checks whether cert was revoked by the
// CRL issued by issuer.
func (vp *crlValidatePair) CheckCertRevocation(cert, issuer *x509.Certificate) error {
	if vp.crl.CheckSignatureFrom(issuer) != nil {
		// CRL was not issued by this issuer, nothing to check.
		return nil
	}
	for _, revoked := range vp.crl.RevokedCertificateEntries {
		if cert.SerialNumber.Cmp(revoked.SerialNumber) == 0 {
			return fmt.Errorf("certificate %v was revoked via CRL issued by %v", cert.Subject.CommonName, issuer.Subject.CommonName)
		}
	}
	return nil
}

func loadCRLs(crl string) ([]*crlValidatePair, error) {
	b, err := os.ReadFile(crl)
	if err != nil {
		return nil, fmt.Errorf("failed to read crl file: %s", crl)
	}

	var pairs []*crlValidatePair
	for len(b) > 0 {
		var block *pem.Block
		block, b = pem.Decode(b)
		if block == nil {
			break
		}
		if block.Type != "X509 CRL" {
			continue
		}
		parsed, err := x509.ParseRevocationList(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse crl file %s: %v", crl, err)
		}
		pairs = append(pairs, &crlValidatePair{crl: parsed})
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("no CRLs found in file: %s", crl)
	}
	return pairs, nil
}
