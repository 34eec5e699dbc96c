package certs

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"net"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"
	"time"
)

func parse(t *testing.T, id *Identity) *x509.Certificate {
	t.Helper()
	cert, err := x509.ParseCertificate(id.Cert.Certificate[0])
	if err != nil {
		t.Fatalf("ParseCertificate: %v", err)
	}
	return cert
}

func TestSelfSignedDefaults(t *testing.T) {
	t.Parallel()

	id, err := SelfSigned(Options{})
	if err != nil {
		t.Fatalf("SelfSigned: %v", err)
	}
	cert := parse(t, id)

	if cert.Subject.CommonName != "tsappsrc" {
		t.Errorf("CommonName: got %q, want tsappsrc", cert.Subject.CommonName)
	}
	if got := cert.NotAfter.Sub(cert.NotBefore); got != DefaultValidity {
		t.Errorf("validity: got %v, want %v", got, DefaultValidity)
	}
	if !slices.Contains(cert.DNSNames, "localhost") {
		t.Errorf("DNSNames: got %v, want localhost", cert.DNSNames)
	}
	if len(cert.IPAddresses) != 2 {
		t.Errorf("IPAddresses: got %v, want both loopbacks", cert.IPAddresses)
	}
	if id.Fingerprint != sha256.Sum256(id.Cert.Certificate[0]) {
		t.Error("fingerprint does not match certificate")
	}
	if got := len(id.FingerprintHex()); got != 64 {
		t.Errorf("FingerprintHex length: got %d, want 64", got)
	}
}

func TestSelfSignedHosts(t *testing.T) {
	t.Parallel()

	id, err := SelfSigned(Options{
		CommonName: "edge",
		Hosts:      []string{"ingest.example.net", "10.0.0.5", "localhost", ""},
		Validity:   time.Hour,
	})
	if err != nil {
		t.Fatalf("SelfSigned: %v", err)
	}
	cert := parse(t, id)

	if want := []string{"localhost", "ingest.example.net"}; !slices.Equal(cert.DNSNames, want) {
		t.Errorf("DNSNames: got %v, want %v", cert.DNSNames, want)
	}
	if !slices.ContainsFunc(cert.IPAddresses, func(ip net.IP) bool { return ip.Equal(net.ParseIP("10.0.0.5")) }) {
		t.Errorf("IPAddresses: got %v, want 10.0.0.5", cert.IPAddresses)
	}
	if got := cert.NotAfter.Sub(cert.NotBefore); got != time.Hour {
		t.Errorf("validity: got %v, want 1h", got)
	}
}

func TestIdentityServesTLS(t *testing.T) {
	t.Parallel()

	id, err := SelfSigned(Options{})
	if err != nil {
		t.Fatalf("SelfSigned: %v", err)
	}

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	srv.TLS = id.TLSConfig()
	srv.StartTLS()
	defer srv.Close()

	pool := x509.NewCertPool()
	pool.AddCert(parse(t, id))
	client := &http.Client{Transport: &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool}}}

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status: got %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
}
