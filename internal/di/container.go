// Package di is a small service container. Services are registered by name
// with a factory and resolved lazily; singletons are created once, and
// circular dependencies are reported instead of deadlocking.
//
// Service providers group related registrations and get a boot phase that
// runs after every provider has registered, mirroring the register/boot
// split of framework plugins.
package di

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/conneroisu/invisible-recaptcha/internal/errors"
)

// dependencyResolver is a wrapper around ServiceContainer that prevents deadlocks
type dependencyResolver struct {
	container *ServiceContainer
	resolving map[string]bool
}

// Get retrieves a service using the safe resolver
func (dr *dependencyResolver) Get(name string) (interface{}, error) {
	return dr.container.getWithResolver(name, dr.resolving)
}

// GetByTag retrieves all services with a specific tag using the safe resolver
func (dr *dependencyResolver) GetByTag(tag string) ([]interface{}, error) {
	return dr.container.getByTag(tag, dr.Get)
}

// MustGet retrieves a service and panics if not found
func (dr *dependencyResolver) MustGet(name string) interface{} {
	instance, err := dr.Get(name)
	if err != nil {
		panic(fmt.Sprintf("failed to get service '%s': %v", name, err))
	}
	return instance
}

// ServiceContainer manages dependency injection for the application
type ServiceContainer struct {
	services   map[string]ServiceDefinition
	order      []string
	singletons map[string]interface{}
	creating   map[string]*sync.WaitGroup
	providers  []ServiceProvider
	booted     bool
	mu         sync.RWMutex
}

// ServiceDefinition defines how a service should be created and managed
type ServiceDefinition struct {
	Name         string
	Type         reflect.Type
	Factory      FactoryFunc
	Singleton    bool
	Dependencies []string
	Tags         []string
}

// FactoryFunc creates a service instance using the dependency resolver
type FactoryFunc func(resolver DependencyResolver) (interface{}, error)

// DependencyResolver provides safe dependency resolution that prevents circular dependencies
type DependencyResolver interface {
	Get(name string) (interface{}, error)
	GetByTag(tag string) ([]interface{}, error)
	MustGet(name string) interface{}
}

// ServiceProvider registers a group of services and configures them once
// all providers are registered.
type ServiceProvider interface {
	Register(c *ServiceContainer) error
	Boot(c *ServiceContainer) error
	Provides() []string
}

// ServiceBuilder helps build service definitions
type ServiceBuilder struct {
	name      string
	container *ServiceContainer
}

// NewServiceContainer creates a new dependency injection container
func NewServiceContainer() *ServiceContainer {
	return &ServiceContainer{
		services:   make(map[string]ServiceDefinition),
		singletons: make(map[string]interface{}),
		creating:   make(map[string]*sync.WaitGroup),
	}
}

// Register registers a transient service: every Get calls factory.
func (c *ServiceContainer) Register(name string, factory FactoryFunc) *ServiceBuilder {
	return c.register(ServiceDefinition{Name: name, Factory: factory})
}

// RegisterSingleton registers a service created on first Get and reused.
func (c *ServiceContainer) RegisterSingleton(name string, factory FactoryFunc) *ServiceBuilder {
	return c.register(ServiceDefinition{Name: name, Factory: factory, Singleton: true})
}

func (c *ServiceContainer) register(definition ServiceDefinition) *ServiceBuilder {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.services[definition.Name]; !exists {
		c.order = append(c.order, definition.Name)
	}
	delete(c.singletons, definition.Name)
	c.services[definition.Name] = definition

	return &ServiceBuilder{name: definition.Name, container: c}
}

// RegisterInstance registers an existing instance as a singleton
func (c *ServiceContainer) RegisterInstance(name string, instance interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.services[name]; !exists {
		c.order = append(c.order, name)
	}
	c.singletons[name] = instance
	c.services[name] = ServiceDefinition{
		Name:      name,
		Type:      reflect.TypeOf(instance),
		Singleton: true,
	}
}

// RegisterProvider runs p.Register immediately. If the container is
// already booted, p is booted too.
func (c *ServiceContainer) RegisterProvider(p ServiceProvider) error {
	if err := p.Register(c); err != nil {
		return fmt.Errorf("registering provider %T: %w", p, err)
	}

	c.mu.Lock()
	c.providers = append(c.providers, p)
	booted := c.booted
	c.mu.Unlock()

	if booted {
		if err := p.Boot(c); err != nil {
			return fmt.Errorf("booting provider %T: %w", p, err)
		}
	}
	return nil
}

// Boot boots every registered provider in registration order. It is a
// no-op after the first successful call.
func (c *ServiceContainer) Boot() error {
	c.mu.Lock()
	if c.booted {
		c.mu.Unlock()
		return nil
	}
	providers := append([]ServiceProvider(nil), c.providers...)
	c.mu.Unlock()

	for _, p := range providers {
		if err := p.Boot(c); err != nil {
			return fmt.Errorf("booting provider %T: %w", p, err)
		}
	}

	c.mu.Lock()
	c.booted = true
	c.mu.Unlock()
	return nil
}

// Get retrieves a service from the container
func (c *ServiceContainer) Get(name string) (interface{}, error) {
	return c.getWithResolver(name, make(map[string]bool))
}

// getWithResolver retrieves a service with circular dependency detection
func (c *ServiceContainer) getWithResolver(
	name string,
	resolving map[string]bool,
) (interface{}, error) {
	if resolving[name] {
		return nil, errors.NewInternalError(errors.ErrCodeCircularServices,
			fmt.Sprintf("circular dependency detected for service '%s'", name), nil)
	}

	c.mu.RLock()
	definition, exists := c.services[name]
	c.mu.RUnlock()

	if !exists {
		return nil, errors.NewInternalError(errors.ErrCodeServiceNotFound,
			fmt.Sprintf("service '%s' not registered", name), nil)
	}

	if !definition.Singleton {
		resolving[name] = true
		instance, err := c.createInstanceSafely(definition.Factory, resolving)
		delete(resolving, name)

		if err != nil {
			return nil, fmt.Errorf("failed to create service '%s': %w", name, err)
		}
		return instance, nil
	}

	// For singletons, use creation coordination to avoid race conditions
	c.mu.Lock()
	if instance, exists := c.singletons[name]; exists {
		c.mu.Unlock()
		return instance, nil
	}

	if wg, creating := c.creating[name]; creating {
		c.mu.Unlock()
		wg.Wait()

		c.mu.RLock()
		instance, ok := c.singletons[name]
		c.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("failed to create singleton service '%s'", name)
		}
		return instance, nil
	}

	wg := &sync.WaitGroup{}
	wg.Add(1)
	c.creating[name] = wg
	resolving[name] = true
	c.mu.Unlock()

	// Create the singleton instance without holding any locks
	instance, err := c.createInstanceSafely(definition.Factory, resolving)
	delete(resolving, name)

	c.mu.Lock()
	delete(c.creating, name)
	if err == nil {
		c.singletons[name] = instance
	}
	c.mu.Unlock()
	wg.Done()

	if err != nil {
		return nil, fmt.Errorf("failed to create singleton service '%s': %w", name, err)
	}
	return instance, nil
}

// createInstanceSafely creates an instance with dependency resolution
func (c *ServiceContainer) createInstanceSafely(
	factory FactoryFunc,
	resolving map[string]bool,
) (interface{}, error) {
	if factory == nil {
		return nil, fmt.Errorf("factory is nil")
	}

	resolver := &dependencyResolver{
		container: c,
		resolving: resolving,
	}

	return factory(resolver)
}

// MustGet retrieves a service and panics if not found
func (c *ServiceContainer) MustGet(name string) interface{} {
	instance, err := c.Get(name)
	if err != nil {
		panic(fmt.Sprintf("failed to get service '%s': %v", name, err))
	}
	return instance
}

// Has checks if a service is registered
func (c *ServiceContainer) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, exists := c.services[name]
	return exists
}

// GetByTag retrieves all services with a specific tag, in registration
// order.
func (c *ServiceContainer) GetByTag(tag string) ([]interface{}, error) {
	return c.getByTag(tag, c.Get)
}

func (c *ServiceContainer) getByTag(tag string, get func(string) (interface{}, error)) ([]interface{}, error) {
	c.mu.RLock()
	var serviceNames []string
	for _, name := range c.order {
		for _, defTag := range c.services[name].Tags {
			if defTag == tag {
				serviceNames = append(serviceNames, name)
				break
			}
		}
	}
	c.mu.RUnlock()

	var services []interface{}
	for _, serviceName := range serviceNames {
		service, err := get(serviceName)
		if err != nil {
			return nil, err
		}
		services = append(services, service)
	}

	return services, nil
}

// Resolve retrieves a service and asserts its type.
func Resolve[T any](r DependencyResolver, name string) (T, error) {
	var zero T

	instance, err := r.Get(name)
	if err != nil {
		return zero, err
	}

	typed, ok := instance.(T)
	if !ok {
		return zero, errors.NewInternalError(errors.ErrCodeServiceNotFound,
			fmt.Sprintf("service '%s' is %T, not %s", name, instance, reflect.TypeOf((*T)(nil)).Elem()), nil)
	}
	return typed, nil
}

// Shutdown calls Shutdown(ctx) on every created singleton that has one, in
// reverse registration order, and forgets all instances.
func (c *ServiceContainer) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for i := len(c.order) - 1; i >= 0; i-- {
		serviceName := c.order[i]
		instance, exists := c.singletons[serviceName]
		if !exists {
			continue
		}
		if shutdownable, ok := instance.(interface{ Shutdown(context.Context) error }); ok {
			if err := shutdownable.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("failed to shutdown %s: %w", serviceName, err))
			}
		}
	}

	c.singletons = make(map[string]interface{})

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	return nil
}

// ServiceBuilder methods for fluent interface

// AsSingleton marks the service as a singleton
func (sb *ServiceBuilder) AsSingleton() *ServiceBuilder {
	sb.update(func(d *ServiceDefinition) { d.Singleton = true })
	return sb
}

// DependsOn adds dependencies to the service
func (sb *ServiceBuilder) DependsOn(dependencies ...string) *ServiceBuilder {
	sb.update(func(d *ServiceDefinition) {
		d.Dependencies = append(d.Dependencies, dependencies...)
	})
	return sb
}

// WithTag adds tags to the service
func (sb *ServiceBuilder) WithTag(tags ...string) *ServiceBuilder {
	sb.update(func(d *ServiceDefinition) { d.Tags = append(d.Tags, tags...) })
	return sb
}

// WithType sets the service type
func (sb *ServiceBuilder) WithType(serviceType reflect.Type) *ServiceBuilder {
	sb.update(func(d *ServiceDefinition) { d.Type = serviceType })
	return sb
}

func (sb *ServiceBuilder) update(fn func(*ServiceDefinition)) {
	sb.container.mu.Lock()
	defer sb.container.mu.Unlock()

	definition := sb.container.services[sb.name]
	fn(&definition)
	sb.container.services[sb.name] = definition
}

// ListServices returns the registered service names in registration order.
func (c *ServiceContainer) ListServices() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return append([]string(nil), c.order...)
}

// GetServiceDefinition returns the definition for a service
func (c *ServiceContainer) GetServiceDefinition(name string) (ServiceDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	definition, exists := c.services[name]
	return definition, exists
}

// Validate checks that every declared dependency is registered and that
// the declared graph has no cycles.
func (c *ServiceContainer) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(c.services))

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		definition, ok := c.services[name]
		if !ok {
			return errors.NewInternalError(errors.ErrCodeServiceNotFound,
				fmt.Sprintf("service '%s' required by '%s' is not registered", name, path[len(path)-1]), nil)
		}
		switch state[name] {
		case visiting:
			return errors.NewInternalError(errors.ErrCodeCircularServices,
				fmt.Sprintf("circular dependency: %v", append(path, name)), nil)
		case done:
			return nil
		}

		state[name] = visiting
		for _, dep := range definition.Dependencies {
			if err := visit(dep, append(path, name)); err != nil {
				return err
			}
		}
		state[name] = done
		return nil
	}

	for _, name := range c.order {
		if err := visit(name, []string{"<root>"}); err != nil {
			return err
		}
	}
	return nil
}
