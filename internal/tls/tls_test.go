package tls

import (
	"path/filepath"
	"testing"

	"github.com/vrosnet/hadc/internal/config"
)

func TestSetupTLSDisabledReturnsNil(t *testing.T) {
	cfg, err := SetupTLS(config.ServerConfig{})
	if err != nil || cfg != nil {
		t.Fatalf("expected (nil, nil) when TLS disabled, got (%v, %v)", cfg, err)
	}
}

func TestSetupTLSAutoGeneratesCertificates(t *testing.T) {
	dir := t.TempDir()
	server := config.ServerConfig{
		TLS: &config.TLSConfig{
			Enabled:      true,
			Dir:          dir,
			AutoGenerate: true,
		},
	}
	tlsCfg, err := SetupTLS(server)
	if err != nil {
		t.Fatalf("SetupTLS: %v", err)
	}
	if tlsCfg == nil {
		t.Fatal("expected non-nil tls.Config")
	}
	if !certificatesExist(filepath.Join(dir, tlsCrt), filepath.Join(dir, tlsKey)) {
		t.Fatal("expected auto-generated certificate and key on disk")
	}
}

func TestSetupTLSWithoutCertConfigErrors(t *testing.T) {
	server := config.ServerConfig{
		TLS: &config.TLSConfig{Enabled: true},
	}
	if _, err := SetupTLS(server); err == nil {
		t.Fatal("expected error when TLS enabled with no cert source")
	}
}

// A caller with no need for a durable cert directory can build its
// TLSConfig through the Testing preset instead of a config.ServerConfig
// literal; SetupTLS must accept the result.
func TestTestingPresetProducesUsableServerConfig(t *testing.T) {
	tlsCfg, err := Default.Testing()
	if err != nil {
		t.Fatalf("Testing: %v", err)
	}
	server := config.ServerConfig{TLS: tlsCfg}
	got, err := SetupTLS(server)
	if err != nil {
		t.Fatalf("SetupTLS: %v", err)
	}
	if got == nil {
		t.Fatal("expected a non-nil tls.Config from the testing preset")
	}
}

func TestDevelopmentPresetEnablesAutoGenerate(t *testing.T) {
	dir := t.TempDir()
	cfg := Default.Development(dir)
	if !cfg.AutoGenerate || cfg.Dir != dir {
		t.Fatalf("unexpected development preset: %+v", cfg)
	}
}
