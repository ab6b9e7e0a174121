package shipper

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/markbook/markbook/worker/internal/config"
)

func defaultDial(ctx context.Context, endpoint string, cfg config.WorkerConfig) (*grpc.ClientConn, error) {
	creds, err := transportCreds(cfg.ServerAuth)
	if err != nil {
		return nil, fmt.Errorf("shipper: %w", err)
	}
	return grpc.DialContext(ctx, endpoint, grpc.WithTransportCredentials(creds)) //nolint:staticcheck
}

// transportCreds returns TLS client credentials in mtls mode. The apikey
// mode sends its key per call, so it and "none" dial in plaintext.
func transportCreds(auth config.AuthConfig) (credentials.TransportCredentials, error) {
	if auth.Mode != "mtls" {
		return insecure.NewCredentials(), nil
	}
	cert, err := tls.LoadX509KeyPair(auth.CertFile, auth.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("client certificate: %w", err)
	}
	tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	if auth.CAFile == "" {
		return credentials.NewTLS(tlsCfg), nil
	}
	pem, err := os.ReadFile(auth.CAFile)
	if err != nil {
		return nil, fmt.Errorf("ca bundle: %w", err)
	}
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("ca bundle %q holds no certificates", auth.CAFile)
	}
	tlsCfg.RootCAs = roots
	return credentials.NewTLS(tlsCfg), nil
}
