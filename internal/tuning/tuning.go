// Package tuning holds every protocol constant in one YAML-loadable struct so
// a deployment can rebalance the economy without a rebuild.
package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	Accounts  Accounts  `yaml:"accounts"`
	Treasury  Treasury  `yaml:"treasury"`
	Boss      Boss      `yaml:"boss"`
	Vault     Vault     `yaml:"vault"`
	Territory Territory `yaml:"territory"`
	Betting   Betting   `yaml:"betting"`
	Idle      Idle      `yaml:"idle"`
}

type Accounts struct {
	StartingBalance int64 `yaml:"starting_balance"`
}

type Treasury struct {
	SeedPool     int64   `yaml:"seed_pool"`
	InitialPrice int64   `yaml:"initial_price"`
	PriceGrowth  float64 `yaml:"price_growth"`
	AccrualRate  float64 `yaml:"accrual_rate"`
	TickSeconds  int     `yaml:"tick_seconds"`
}

type Boss struct {
	InitialMaxHP int64    `yaml:"initial_max_hp"`
	HPGrowth     float64  `yaml:"hp_growth"`
	RewardRatio  float64  `yaml:"reward_ratio"`
	TickSeconds  int      `yaml:"tick_seconds"`
	Turrets      []Turret `yaml:"turrets"`
}

type Turret struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Cost int64  `yaml:"cost"`
	DPS  int64  `yaml:"dps"`
}

type Vault struct {
	EntryFee      int64 `yaml:"entry_fee"`
	JackpotFloor  int64 `yaml:"jackpot_floor"`
	JackpotGrowth int64 `yaml:"jackpot_growth"`
	CodeDigits    int   `yaml:"code_digits"`
}

type Territory struct {
	GridWidth      int   `yaml:"grid_width"`
	GridHeight     int   `yaml:"grid_height"`
	ActionFee      int64 `yaml:"action_fee"`
	AttackPower    int64 `yaml:"attack_power"`
	ClaimDefense   int64 `yaml:"claim_defense"`
	CaptureDefense int64 `yaml:"capture_defense"`
	DefenseCap     int64 `yaml:"defense_cap"`
	SeasonDays     int   `yaml:"season_days"`
	SeasonPool     int64 `yaml:"season_pool"`
}

type Betting struct {
	PayoutMultiplier int64 `yaml:"payout_multiplier"`
}

type Idle struct {
	CostGrowth    float64   `yaml:"cost_growth"`
	ExchangeRate  int64     `yaml:"exchange_rate"`
	PrestigeBase  float64   `yaml:"prestige_base"`
	ShareBonus    float64   `yaml:"share_bonus"`
	Upgrades      []Upgrade `yaml:"upgrades"`
	ClickPower    float64   `yaml:"click_power"`
}

type Upgrade struct {
	ID        string  `yaml:"id"`
	Name      string  `yaml:"name"`
	Type      string  `yaml:"type"` // "click" or "auto"
	BaseCost  float64 `yaml:"base_cost"`
	BasePower float64 `yaml:"base_power"`
}

// Defaults returns the stock economy balance.
func Defaults() Tuning {
	return Tuning{
		Accounts: Accounts{StartingBalance: 250},
		Treasury: Treasury{
			SeedPool:     1000,
			InitialPrice: 50,
			PriceGrowth:  1.15,
			AccrualRate:  0.01,
			TickSeconds:  3,
		},
		Boss: Boss{
			InitialMaxHP: 100000,
			HPGrowth:     1.5,
			RewardRatio:  0.1,
			TickSeconds:  1,
			Turrets: []Turret{
				{ID: "laser", Name: "Laser Pod", Cost: 100, DPS: 1},
				{ID: "railgun", Name: "Railgun Array", Cost: 450, DPS: 5},
				{ID: "plasma", Name: "Plasma Battery", Cost: 2000, DPS: 25},
				{ID: "singularity", Name: "Singularity Cannon", Cost: 8500, DPS: 120},
			},
		},
		Vault: Vault{
			EntryFee:      25,
			JackpotFloor:  500,
			JackpotGrowth: 5,
			CodeDigits:    5,
		},
		Territory: Territory{
			GridWidth:      6,
			GridHeight:     6,
			ActionFee:      25,
			AttackPower:    25,
			ClaimDefense:   100,
			CaptureDefense: 50,
			DefenseCap:     100,
			SeasonDays:     3,
			SeasonPool:     50000,
		},
		Betting: Betting{PayoutMultiplier: 2},
		Idle: Idle{
			CostGrowth:   1.25,
			ExchangeRate: 100000,
			PrestigeBase: 5_000_000,
			ShareBonus:   0.05,
			ClickPower:   1,
			Upgrades: []Upgrade{
				{ID: "cursor", Name: "Auto Cursor", Type: "auto", BaseCost: 100, BasePower: 1},
				{ID: "intern", Name: "Unpaid Intern", Type: "auto", BaseCost: 1_100, BasePower: 8},
				{ID: "farm", Name: "Click Farm", Type: "auto", BaseCost: 12_000, BasePower: 47},
				{ID: "datacenter", Name: "Datacenter", Type: "auto", BaseCost: 130_000, BasePower: 260},
				{ID: "gloves", Name: "Reinforced Gloves", Type: "click", BaseCost: 500, BasePower: 5},
				{ID: "exoskeleton", Name: "Exoskeleton Rig", Type: "click", BaseCost: 25_000, BasePower: 60},
			},
		},
	}
}

// Load reads overrides from a YAML file on top of the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if path == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Tuning{}, fmt.Errorf("read tuning file: %w", err)
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Tuning{}, fmt.Errorf("parse tuning file: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Tuning{}, err
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.Treasury.PriceGrowth <= 1 {
		return fmt.Errorf("tuning: treasury price_growth must exceed 1")
	}
	if t.Boss.HPGrowth <= 1 {
		return fmt.Errorf("tuning: boss hp_growth must exceed 1")
	}
	if t.Idle.CostGrowth <= 1 {
		return fmt.Errorf("tuning: idle cost_growth must exceed 1")
	}
	if t.Vault.CodeDigits < 1 || t.Vault.CodeDigits > 9 {
		return fmt.Errorf("tuning: vault code_digits out of range")
	}
	if t.Territory.GridWidth < 1 || t.Territory.GridHeight < 1 {
		return fmt.Errorf("tuning: territory grid must be at least 1x1")
	}
	return nil
}

// Turret resolves a catalog entry by id.
func (b Boss) Turret(id string) (Turret, bool) {
	for _, t := range b.Turrets {
		if t.ID == id {
			return t, true
		}
	}
	return Turret{}, false
}

// Upgrade resolves a catalog entry by id.
func (i Idle) Upgrade(id string) (Upgrade, bool) {
	for _, u := range i.Upgrades {
		if u.ID == id {
			return u, true
		}
	}
	return Upgrade{}, false
}
