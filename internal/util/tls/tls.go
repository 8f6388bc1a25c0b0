/*
Copyright 2026 The llm-d Authors

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

// This file provides tls utilities shared by the redact HTTP client and the redis client.

package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
)

type Certificates struct {
	Dir        string `yaml:"dir"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`
	CaCertFile string `yaml:"ca_cert_file"`
}

func (c Certificates) IsEmpty() bool {
	return reflect.ValueOf(c).IsZero()
}

// Paths returns the certificate, key and CA paths joined with Dir.
func (c Certificates) Paths() (certFile, keyFile, caCertFile string) {
	return JoinCertPath(c.Dir, c.CertFile), JoinCertPath(c.Dir, c.KeyFile), JoinCertPath(c.Dir, c.CaCertFile)
}

// Options holds client-side TLS settings. The zero value means system defaults.
type Options struct {
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	MinVersion         uint16 `yaml:"min_version"` // tls.VersionTLS12, tls.VersionTLS13
	MaxVersion         uint16 `yaml:"max_version"`
	Certificates       `yaml:",inline"`
}

func (o Options) IsEmpty() bool {
	return reflect.ValueOf(o).IsZero()
}

// ClientConfig builds a client TLS config. It returns nil when no option is set, so callers keep
// Go's defaults (system roots, TLS 1.2+).
func ClientConfig(o Options) (*tls.Config, error) {
	if o.IsEmpty() {
		return nil, nil
	}
	certFile, keyFile, caCertFile := o.Paths()
	if (certFile == "") != (keyFile == "") {
		return nil, fmt.Errorf("both cert_file and key_file must be specified for mTLS")
	}
	conf, err := GetTlsConfig(LOAD_TYPE_CLIENT, o.InsecureSkipVerify, certFile, keyFile, caCertFile)
	if err != nil {
		return nil, err
	}
	if o.MinVersion != 0 {
		conf.MinVersion = o.MinVersion
	}
	if o.MaxVersion != 0 {
		conf.MaxVersion = o.MaxVersion
	}
	return conf, nil
}

type LoadType int

const (
	LOAD_TYPE_CLIENT LoadType = iota
	LOAD_TYPE_SERVER
)

func GetTlsConfig(loadType LoadType, insecure bool, certFile string, keyFile string, caCertFile string) (*tls.Config, error) {
	var tlsConf tls.Config
	if certFile != "" {
		certificate, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("GetTlsConfig: LoadX509KeyPair failed: %v", err) // pragma: allowlist secret
		}
		tlsConf.Certificates = []tls.Certificate{certificate}
	}

	if insecure {
		tlsConf.InsecureSkipVerify = true
	} else if caCertFile != "" {
		ca, err := os.ReadFile(caCertFile)
		if err != nil {
			return nil, fmt.Errorf("GetTlsConfig: Could not read CA certificate file: %v", err) // pragma: allowlist secret
		}
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM(ca); !ok {
			return nil, fmt.Errorf("GetTlsConfig: AppendCertsFromPEM failed") // pragma: allowlist secret
		}
		if loadType == LOAD_TYPE_CLIENT {
			tlsConf.RootCAs = certPool
		} else {
			tlsConf.ClientCAs = certPool
			tlsConf.ClientAuth = tls.RequireAndVerifyClientCert // pragma: allowlist secret
		}
	}
	return &tlsConf, nil
}

// Return the cert path only when file is not empty.
func JoinCertPath(dir, file string) string {
	if len(file) > 0 {
		return filepath.Join(dir, file)
	}
	return ""
}
