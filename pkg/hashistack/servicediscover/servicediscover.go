package servicediscover

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/hashicorp/consul/api"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"investhub-platform/pkg/config"
)

// Module registers the HTTP service in consul while the app runs.
// Without CONSUL.ADDR nothing is registered.
var Module = fx.Module("servicediscover", fx.Invoke(registerConsul))

type ServiceRegistry interface {
	Register(ctx context.Context) error
	Deregister(ctx context.Context) error
}

func registerConsul(lc fx.Lifecycle, cfg *config.Config) error {
	if cfg.Consul.Addr == "" {
		return nil
	}

	registration, err := NewRegistration(cfg)
	if err != nil {
		return err
	}

	registry, err := NewConsulRegistry(cfg.Consul.Addr, registration)
	if err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			zap.L().Info("[Consul] registering service",
				zap.String("id", registration.ID),
				zap.String("address", registration.Address),
				zap.Int("port", registration.Port),
			)
			return registry.Register(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return registry.Deregister(ctx)
		},
	})
	return nil
}

// NewRegistration describes this instance, its readiness probe included.
func NewRegistration(cfg *config.Config) (*api.AgentServiceRegistration, error) {
	port, err := strconv.Atoi(cfg.Server.Addr)
	if err != nil {
		return nil, fmt.Errorf("invalid http port %q: %w", cfg.Server.Addr, err)
	}

	host := cfg.Consul.ServiceHost
	if host == "" {
		if host, err = os.Hostname(); err != nil {
			return nil, err
		}
	}

	return &api.AgentServiceRegistration{
		ID:      fmt.Sprintf("%s-%s-%d", cfg.AppName, host, port),
		Name:    cfg.AppName,
		Address: host,
		Port:    port,
		Tags:    []string{cfg.AppEnv, cfg.AppVersion},
		Check: &api.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%d/readyz", host, port),
			Interval:                       "10s",
			Timeout:                        "5s",
			DeregisterCriticalServiceAfter: "1m",
		},
	}, nil
}

type ConsulRegistry struct {
	client  *api.Client
	service *api.AgentServiceRegistration
}

func NewConsulRegistry(address string, service *api.AgentServiceRegistration) (*ConsulRegistry, error) {
	config := api.DefaultConfig()
	config.Address = address

	client, err := api.NewClient(config)
	if err != nil {
		return nil, err
	}

	return &ConsulRegistry{
		client:  client,
		service: service,
	}, nil
}

func (r *ConsulRegistry) Register(ctx context.Context) error {
	return r.client.Agent().ServiceRegister(r.service)
}

func (r *ConsulRegistry) Deregister(ctx context.Context) error {
	return r.client.Agent().ServiceDeregister(r.service.ID)
}
