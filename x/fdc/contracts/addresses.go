package contracts

import "fmt"

// Addresses locates the FDC system contracts.
type Addresses struct {
	FdcHub              string `mapstructure:"fdc_hub"               yaml:"fdc_hub"`
	FeeConfigurations   string `mapstructure:"fee_configurations"    yaml:"fee_configurations"`
	FlareSystemsManager string `mapstructure:"flare_systems_manager" yaml:"flare_systems_manager"`
	Relay               string `mapstructure:"relay"                 yaml:"relay"`
}

// DefaultAddresses returns the Coston2 deployment.
func DefaultAddresses() Addresses {
	return Addresses{
		FdcHub:              "0x48aC463d7975828989331F4De43341627b9c5f1D",
		FeeConfigurations:   "0x191a1282Ac700edE65c5B0AaF313BAcC3eA7fC7e",
		FlareSystemsManager: "0xA90Db6D10F856799b10ef2A77EBCbF460aC71e52",
		Relay:               "0x97702e350CaEda540935d92aAf213307e9069784",
	}
}

// Bindings holds one binding per system contract.
type Bindings struct {
	Hub     *FdcHubBinding
	Fees    *FeeConfigurationsBinding
	Manager *FlareSystemsManagerBinding
	Relay   *RelayBinding
}

// Bind parses every ABI and validates every address in a.
func (a Addresses) Bind() (*Bindings, error) {
	hub, err := NewFdcHubBinding(a.FdcHub)
	if err != nil {
		return nil, fmt.Errorf("fdc_hub: %w", err)
	}
	fees, err := NewFeeConfigurationsBinding(a.FeeConfigurations)
	if err != nil {
		return nil, fmt.Errorf("fee_configurations: %w", err)
	}
	manager, err := NewFlareSystemsManagerBinding(a.FlareSystemsManager)
	if err != nil {
		return nil, fmt.Errorf("flare_systems_manager: %w", err)
	}
	relay, err := NewRelayBinding(a.Relay)
	if err != nil {
		return nil, fmt.Errorf("relay: %w", err)
	}
	return &Bindings{Hub: hub, Fees: fees, Manager: manager, Relay: relay}, nil
}
