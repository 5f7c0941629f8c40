// Package modules holds the deployment modules shipped with the repository.
package modules

import (
	"github.com/nafkem/LansRealEstate/internal/ignition"
)

// LansellerModuleID is the module ID recorded in deployment journals.
const LansellerModuleID = "LansellerModule"

// Result names exported by the Lanseller module.
const (
	ResultToken     = "Token"
	ResultVerifier  = "verifier"
	ResultLanSeller = "lanSeller"
)

// Lanseller deploys Token and Verifier, then LanSeller with their addresses
// as constructor arguments.
func Lanseller() (*ignition.Module, error) {
	return ignition.BuildModule(LansellerModuleID, func(m *ignition.ModuleBuilder) ignition.Results {
		token := m.Contract("Token")
		verifier := m.Contract("Verifier")
		lanSeller := m.Contract("LanSeller", token, verifier)

		return ignition.Results{
			ResultToken:     token,
			ResultVerifier:  verifier,
			ResultLanSeller: lanSeller,
		}
	})
}

// Registry returns every module by ID.
func Registry() map[string]func() (*ignition.Module, error) {
	return map[string]func() (*ignition.Module, error){
		LansellerModuleID: Lanseller,
	}
}
