package proxy

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/snarelabs/snare/internal/errx"
)

// CAPool issues per-host leaf certificates signed by a local CA so the
// proxy can terminate TLS for intercepted hosts. Clients trust the CA
// certificate for the duration of a test run.
type CAPool struct {
	caCert    *x509.Certificate
	caKey     *rsa.PrivateKey
	certCache sync.Map
	dir       string
}

// NewCAPool loads the CA from dir, generating and saving one on first
// use. An empty dir keeps the CA in memory only, which suits tests and
// one-shot recording runs.
func NewCAPool(dir string) (*CAPool, error) {
	pool := &CAPool{dir: dir}
	if dir == "" {
		if err := pool.generateCA(); err != nil {
			return nil, err
		}
		return pool, nil
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errx.Wrap(ErrSaveCA, err)
	}
	certPath := filepath.Join(dir, "ca.crt")
	keyPath := filepath.Join(dir, "ca.key")

	if _, err := os.Stat(certPath); err == nil {
		if err := pool.loadCA(certPath, keyPath); err == nil {
			return pool, nil
		}
	}
	if err := pool.generateCA(); err != nil {
		return nil, err
	}
	if err := pool.saveCA(certPath, keyPath); err != nil {
		return nil, err
	}
	return pool, nil
}

func (p *CAPool) loadCA(certPath, keyPath string) error {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return errx.Wrap(ErrLoadCA, err)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return errx.Wrap(ErrLoadCA, err)
	}

	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return errx.With(ErrLoadCA, ": no certificate block in %s", certPath)
	}
	p.caCert, err = x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return errx.Wrap(ErrLoadCA, err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return errx.With(ErrLoadCA, ": no key block in %s", keyPath)
	}
	p.caKey, err = x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		return errx.Wrap(ErrLoadCA, err)
	}
	return nil
}

func (p *CAPool) generateCA() error {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return errx.Wrap(ErrGenerateCA, err)
	}
	p.caKey = key

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Snare Interception CA"},
			CommonName:   "Snare Interception CA",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            0,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return errx.Wrap(ErrGenerateCA, err)
	}
	p.caCert, err = x509.ParseCertificate(certDER)
	if err != nil {
		return errx.Wrap(ErrGenerateCA, err)
	}
	return nil
}

func (p *CAPool) saveCA(certPath, keyPath string) error {
	certPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: p.caCert.Raw,
	})
	if err := os.WriteFile(certPath, certPEM, 0644); err != nil {
		return errx.Wrap(ErrSaveCA, err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(p.caKey),
	})
	if err := os.WriteFile(keyPath, keyPEM, 0600); err != nil {
		return errx.Wrap(ErrSaveCA, err)
	}
	return nil
}

// GetCertificate returns a leaf certificate for serverName, issuing and
// caching one on first use.
func (p *CAPool) GetCertificate(serverName string) (*tls.Certificate, error) {
	if cached, ok := p.certCache.Load(serverName); ok {
		return cached.(*tls.Certificate), nil
	}
	cert, err := p.issueCertificate(serverName)
	if err != nil {
		return nil, err
	}
	p.certCache.Store(serverName, cert)
	return cert, nil
}

func (p *CAPool) issueCertificate(serverName string) (*tls.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, errx.Wrap(ErrIssueCertificate, err)
	}
	serialNumber, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return nil, errx.Wrap(ErrIssueCertificate, err)
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName: serverName,
		},
		NotBefore:   time.Now(),
		NotAfter:    time.Now().AddDate(1, 0, 0),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if ip := net.ParseIP(serverName); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{serverName}
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, p.caCert, &key.PublicKey, p.caKey)
	if err != nil {
		return nil, errx.Wrap(ErrIssueCertificate, err)
	}
	return &tls.Certificate{
		Certificate: [][]byte{certDER, p.caCert.Raw},
		PrivateKey:  key,
	}, nil
}

// CACertPEM returns the CA certificate in PEM form for client trust
// stores.
func (p *CAPool) CACertPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: p.caCert.Raw,
	})
}

// CACertPath returns the on-disk CA certificate path, or empty for an
// in-memory pool.
func (p *CAPool) CACertPath() string {
	if p.dir == "" {
		return ""
	}
	return filepath.Join(p.dir, "ca.crt")
}
