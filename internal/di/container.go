// Package di assembles the service layer from its repositories and
// external collaborators. Production wiring lives in cmd/api; tests can
// hand the container in-memory stand-ins.
package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oakmarket/api/internal/payments"
	"github.com/oakmarket/api/internal/platform/config"
	"github.com/oakmarket/api/internal/repositories"
	"github.com/oakmarket/api/internal/services"
)

// Repositories bundles the persistence contracts the services rely on.
type Repositories struct {
	Products repositories.ProductRepository
	Orders   repositories.OrderRepository
	Health   repositories.HealthRepository
}

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Validator services.CartValidator
	Checkout  services.CheckoutService
	Webhooks  services.WebhookService
	Orders    services.OrderService
	System    services.SystemService
}

// Deps carries everything needed to build the service layer.
type Deps struct {
	Config       config.Config
	Repositories Repositories
	Gateway      payments.Gateway
	Publisher    services.OrderEventPublisher
	Logger       func(ctx context.Context, event string, fields map[string]any)
	Clock        func() time.Time
	Build        services.BuildInfo
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories Repositories
	Services     Services
}

// NewContainer constructs the runtime dependency graph.
func NewContainer(ctx context.Context, deps Deps) (*Container, error) {
	if deps.Repositories.Products == nil {
		return nil, errors.New("product repository is required")
	}
	if deps.Repositories.Orders == nil {
		return nil, errors.New("order repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment gateway is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	validator, err := services.NewCartValidator(services.CartValidatorDeps{
		Products:         deps.Repositories.Products,
		ShippingFlatRate: deps.Config.Checkout.ShippingFlatRate,
		Clock:            clock,
		Logger:           deps.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build cart validator: %w", err)
	}

	checkout, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Validator: validator,
		Gateway:   deps.Gateway,
		Config: services.CheckoutConfig{
			Currency:         deps.Config.Checkout.Currency,
			SuccessURL:       deps.Config.Checkout.SuccessURL,
			CancelURL:        deps.Config.Checkout.CancelURL,
			AllowedCountries: deps.Config.Checkout.AllowedCountries,
		},
		Clock:  clock,
		Logger: deps.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build checkout service: %w", err)
	}

	webhooks, err := services.NewWebhookService(services.WebhookServiceDeps{
		Gateway:   deps.Gateway,
		Orders:    deps.Repositories.Orders,
		Publisher: deps.Publisher,
		Clock:     clock,
		Logger:    deps.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build webhook service: %w", err)
	}

	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders: deps.Repositories.Orders,
		Clock:  clock,
		Logger: deps.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build order service: %w", err)
	}

	svc := Services{
		Validator: validator,
		Checkout:  checkout,
		Webhooks:  webhooks,
		Orders:    orders,
	}

	if deps.Repositories.Health != nil {
		system, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: deps.Repositories.Health,
			Clock:            clock,
			Build:            deps.Build,
		})
		if err != nil {
			return nil, fmt.Errorf("build system service: %w", err)
		}
		svc.System = system
	}

	return &Container{
		Config:       deps.Config,
		Repositories: deps.Repositories,
		Services:     svc,
	}, nil
}
