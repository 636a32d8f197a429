package pump

import "github.com/kilianp07/pipump/core/factory"

// Actuator drives the physical output of a pump.
type Actuator interface {
	SetHigh() error
	SetLow() error
}

// NopActuator is used for pumps without a physical output.
type NopActuator struct{}

func (NopActuator) SetHigh() error { return nil }
func (NopActuator) SetLow() error  { return nil }

var actuatorRegistry = factory.NewRegistry[Actuator]()

// RegisterActuator adds an actuator factory identified by name.
func RegisterActuator(name string, f factory.Factory[Actuator]) error {
	return actuatorRegistry.Register(name, f)
}

// NewActuator creates an Actuator from cfg.
func NewActuator(cfg factory.ModuleConfig) (Actuator, error) {
	return actuatorRegistry.Create(cfg)
}

// ActuatorTypes lists the registered actuator types.
func ActuatorTypes() []string { return actuatorRegistry.Types() }
