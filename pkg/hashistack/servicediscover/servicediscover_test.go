package servicediscover

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"

	"investhub-platform/pkg/config"
)

func testConfig() *config.Config {
	cfg := &config.Config{AppName: "investhub", AppEnv: "staging", AppVersion: "1.0.0"}
	cfg.Server.Addr = "8080"
	cfg.Consul.ServiceHost = "10.0.0.7"
	return cfg
}

func TestNewRegistration(t *testing.T) {
	reg, err := NewRegistration(testConfig())
	require.NoError(t, err)
	require.Equal(t, "investhub-10.0.0.7-8080", reg.ID)
	require.Equal(t, 8080, reg.Port)
	require.Equal(t, "http://10.0.0.7:8080/readyz", reg.Check.HTTP)
	require.Equal(t, []string{"staging", "1.0.0"}, reg.Tags)
}

func TestNewRegistrationRejectsBadPort(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Addr = ":http"

	_, err := NewRegistration(cfg)
	require.Error(t, err)
}

func TestRegisterWithoutAddrIsNoop(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	require.NoError(t, registerConsul(lc, testConfig()))
	lc.RequireStart().RequireStop()
}
