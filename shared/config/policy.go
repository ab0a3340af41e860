package config

import (
	"fmt"
	"os"

	"github.com/linluma/indodax/shared/models"
	"gopkg.in/yaml.v3"
)

// DefaultPolicies are the exchange minimums per pair. IDR-quoted pairs
// filter buys by notional IDR and sells by base volume.
var DefaultPolicies = map[string]models.VolumePolicy{
	"btcidr":   {MinBuy: 50000, MinSell: 0.0001, Pip: 1000},
	"bchidr":   {MinBuy: 50000, MinSell: 0.0001, Pip: 1000},
	"btgidr":   {MinBuy: 50000, MinSell: 0.0001, Pip: 1000},
	"ethidr":   {MinBuy: 50000, MinSell: 0.01, Pip: 1000},
	"etcidr":   {MinBuy: 50000, MinSell: 0.01, Pip: 100},
	"ignisidr": {MinBuy: 50000, MinSell: 0.01, Pip: 1},
	"ltcidr":   {MinBuy: 50000, MinSell: 0.01, Pip: 1000},
	"nxtidr":   {MinBuy: 50000, MinSell: 5, Pip: 1},
	"tenidr":   {MinBuy: 50000, MinSell: 0.01, Pip: 1},
	"stridr":   {MinBuy: 50000, MinSell: 20, Pip: 1},
	"xrpidr":   {MinBuy: 50000, MinSell: 5, Pip: 1},
	"wavesidr": {MinBuy: 50000, MinSell: 0.01, Pip: 100},
	"xzcidr":   {MinBuy: 50000, MinSell: 0.01, Pip: 100},
	"ethbtc":   {MinBuy: 0.001, MinSell: 0.001},
	"ltcbtc":   {MinBuy: 0.01, MinSell: 0.01},
	"nxtbtc":   {MinBuy: 0.01, MinSell: 0.01},
	"strbtc":   {MinBuy: 0.01, MinSell: 0.01},
	"xrpbtc":   {MinBuy: 0.01, MinSell: 0.01},
}

// policyFile is the YAML layout of a policy override file:
//
//	pairs:
//	  btcidr: {buy: 50000, sell: 0.0001, pip: 1000}
type policyFile struct {
	Pairs map[string]models.VolumePolicy `yaml:"pairs"`
}

// LoadPolicies returns the default table merged with the overrides in path.
// An empty path returns the defaults.
func LoadPolicies(path string) (models.PolicyTable, error) {
	table := models.NewPolicyTable(DefaultPolicies)
	if path == "" {
		return table, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return models.PolicyTable{}, fmt.Errorf("cannot read policy file: %w", err)
	}
	return ParsePolicies(table, data)
}

// ParsePolicies merges YAML overrides onto base
func ParsePolicies(base models.PolicyTable, data []byte) (models.PolicyTable, error) {
	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return models.PolicyTable{}, fmt.Errorf("cannot parse policy file: %w", err)
	}

	for pair, policy := range f.Pairs {
		if policy.MinBuy < 0 || policy.MinSell < 0 {
			return models.PolicyTable{}, fmt.Errorf("negative minimum for %s", pair)
		}
	}
	return base.Merge(f.Pairs), nil
}
